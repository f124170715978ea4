package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go-ubus/client"
	"go-ubus/config"
	"go-ubus/logging"
	"go-ubus/transport"
	"go-ubus/value"
)

type globalFlags struct {
	ConfigPath string
	Socket     string
	Timeout    time.Duration
	LogLevel   string
}

var (
	flags  globalFlags
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "ubus",
	Short: "Command line client for the ubus message bus",
	Long: `ubus talks to the local ubus broker over its UNIX socket.

Parameters and results are JSON objects; key order is kept as sent by the
broker.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flags.ConfigPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("socket") {
			cfg.Socket = flags.Socket
		}
		if cmd.Flags().Changed("timeout") {
			cfg.Timeout = config.Duration(flags.Timeout)
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = flags.LogLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "JSON config file")
	rootCmd.PersistentFlags().StringVarP(&flags.Socket, "socket", "s", "", "broker socket (default from config, then "+transport.DefaultSocketPath+")")
	rootCmd.PersistentFlags().DurationVarP(&flags.Timeout, "timeout", "t", client.DefaultTimeout, "per call timeout")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(systemInfoCmd)
	rootCmd.AddCommand(networkInfoCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(exportCmd)
}

// connect opens a client configured from cfg plus extra options.
func connect(ctx context.Context, opts ...client.Option) (*client.Client, error) {
	base := []client.Option{
		client.WithTimeout(cfg.Timeout.Std()),
		client.WithLogger(logger),
	}
	if cfg.CompactIntegers {
		base = append(base, client.WithCompactIntegers())
	}
	if cfg.KeepAlive > 0 {
		base = append(base, client.WithKeepAlive(cfg.KeepAlive.Std()))
	}
	c := client.New(append(base, opts...)...)
	if err := c.Connect(ctx, cfg.Socket); err != nil {
		return nil, err
	}
	return c, nil
}

func printJSON(v value.Value) error {
	out, err := value.MarshalIndent(v, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// parseParams reads the optional JSON argument at index i.
func parseParams(args []string, i int) (value.Value, error) {
	if len(args) <= i {
		return nil, nil
	}
	params, err := value.ParseJSON([]byte(args[i]))
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	return params, nil
}
