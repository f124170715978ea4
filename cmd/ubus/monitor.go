package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go-ubus/client"
	"go-ubus/middleware"
)

var monitorFlags struct {
	Interval    time.Duration
	Count       int
	MetricsAddr string
}

var monitorCmd = &cobra.Command{
	Use:   "monitor <object> <method> [json]",
	Short: "Call a method repeatedly and print every reply",
	Long: `monitor polls a method at a fixed interval. Failed calls are reported
and polling continues. With --metrics-addr the call counters and latency
histogram are served at /metrics.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args, 2)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		mws := []middleware.Middleware{
			middleware.NewMetrics(reg).Middleware(),
			middleware.LoggingMiddleware(logger),
		}
		if cfg.RateLimit.Rate > 0 {
			mws = append(mws, middleware.ThrottleMiddleware(cfg.RateLimit.Rate, cfg.RateLimit.Burst))
		}

		addr := monitorFlags.MetricsAddr
		if addr == "" {
			addr = cfg.Metrics.Listen
		}
		if addr != "" {
			srv := serveMetrics(addr, reg)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		c, err := connect(ctx, client.WithMiddleware(mws...))
		if err != nil {
			return err
		}
		defer c.Close()

		ticker := time.NewTicker(monitorFlags.Interval)
		defer ticker.Stop()
		for n := 0; monitorFlags.Count == 0 || n < monitorFlags.Count; n++ {
			if n > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}

			result, err := c.Call(ctx, args[0], args[1], params)
			switch {
			case errors.Is(err, context.Canceled):
				return nil
			case err != nil:
				pterm.Warning.Printfln("%s %s", time.Now().Format(time.RFC3339), err)
				if !c.IsConnected() {
					if err := c.Connect(ctx, cfg.Socket); err != nil {
						logger.Warn("reconnect failed", zap.Error(err))
					}
				}
			default:
				pterm.Info.Println(time.Now().Format(time.RFC3339))
				if err := printJSON(result); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().DurationVarP(&monitorFlags.Interval, "interval", "i", 5*time.Second, "time between calls")
	monitorCmd.Flags().IntVarP(&monitorFlags.Count, "count", "n", 0, "number of calls, 0 for no limit")
	monitorCmd.Flags().StringVar(&monitorFlags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}
