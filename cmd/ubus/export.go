package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"go-ubus/registry"
)

var exportFlags struct {
	Endpoints []string
	Host      string
	Pattern   string
	Hold      bool
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Publish this host's object table to etcd",
	Long: `export looks up the broker's objects and stores their descriptors in
etcd under <prefix><host>/<object>, leased for the configured TTL. With
--hold the lease is kept alive until interrupted; otherwise the entries
expire after the TTL.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host := exportFlags.Host
		if host == "" {
			name, err := os.Hostname()
			if err != nil {
				return fmt.Errorf("hostname: %w", err)
			}
			host = name
		}
		endpoints := cfg.Etcd.Endpoints
		if cmd.Flags().Changed("etcd") {
			endpoints = exportFlags.Endpoints
		}

		c, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		objs, err := c.Lookup(cmd.Context(), exportFlags.Pattern)
		c.Close()
		if err != nil {
			return err
		}

		catalog, err := registry.NewEtcdCatalog(endpoints,
			registry.WithPrefix(cfg.Etcd.Prefix),
			registry.WithDialTimeout(cfg.Etcd.DialTimeout.Std()),
			registry.WithCatalogLogger(logger),
		)
		if err != nil {
			return err
		}
		defer catalog.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := catalog.Publish(ctx, host, objs, cfg.Etcd.TTL); err != nil {
			return err
		}
		pterm.Success.Printfln("published %d objects for %s", len(objs), host)

		if exportFlags.Hold {
			<-ctx.Done()
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringSliceVar(&exportFlags.Endpoints, "etcd", nil, "etcd endpoints (default from config)")
	exportCmd.Flags().StringVar(&exportFlags.Host, "host", "", "host name to publish under (default os hostname)")
	exportCmd.Flags().StringVar(&exportFlags.Pattern, "pattern", "", "export only objects matching this path or prefix*")
	exportCmd.Flags().BoolVar(&exportFlags.Hold, "hold", false, "keep the lease alive until interrupted")
}
