// Command relay runs the STOMP broker relay as a standalone process: it
// loads configuration from the environment (optionally preloaded from a
// .env-style file), brings up the Relay Controller and its system
// session, and serves an optional Prometheus metrics endpoint until it
// receives SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mk6i/stomp-relay/config"
	"github.com/mk6i/stomp-relay/eventlog"
	"github.com/mk6i/stomp-relay/logging"
	"github.com/mk6i/stomp-relay/messaging"
	"github.com/mk6i/stomp-relay/metrics"
	"github.com/mk6i/stomp-relay/relay"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	cfgFile string
)

func main() {
	root := &cobra.Command{
		Use:   "relay",
		Short: "STOMP broker relay",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "settings.env", "path to a .env-style config file")
	root.AddCommand(runCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%-10s %s\n", "version:", version)
			fmt.Printf("%-10s %s\n", "commit:", commit)
			fmt.Printf("%-10s %s\n", "date:", date)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the relay until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func loadConfig() (config.Config, error) {
	if err := godotenv.Load(cfgFile); err != nil {
		fmt.Printf("config file (%s) not found, defaulting to env vars\n", cfgFile)
	} else {
		fmt.Printf("loaded config file (%s)\n", cfgFile)
	}

	var cfg config.Config
	if err := envconfig.Process("", &cfg); err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg)

	var reg *prometheus.Registry
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		reg = prometheus.NewRegistry()
		m = metrics.NewMetrics(reg)
	}

	var store *eventlog.Store
	if cfg.EventLogPath != "" {
		store, err = eventlog.Open(cfg.EventLogPath)
		if err != nil {
			return fmt.Errorf("opening eventlog: %w", err)
		}
		defer store.Close()
	}

	appChannel := messaging.NewInProcessChannel()

	ctrl := relay.NewController(relay.Config{
		RelayHost:                      cfg.RelayHost,
		RelayPort:                      cfg.RelayPort,
		ClientLogin:                    cfg.ClientLogin,
		ClientPasscode:                 cfg.ClientPasscode,
		SystemLogin:                    cfg.SystemLogin,
		SystemPasscode:                 cfg.SystemPasscode,
		SystemHeartbeatSendInterval:    cfg.SystemHeartbeatSendInterval(),
		SystemHeartbeatReceiveInterval: cfg.SystemHeartbeatReceiveInterval(),
		VirtualHost:                    cfg.VirtualHost,
		DestinationPrefixes:            splitPrefixes(cfg.DestinationPrefixes),
		ReconnectRateLimit:             cfg.ReconnectRateLimit,
		ReconnectBurst:                 cfg.ReconnectBurst,
		Metrics:                        m,
		EventLog:                       store,
	}, appChannel, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ctrl.Start(gctx) })

	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux}
		g.Go(func() error {
			logger.Info("metrics endpoint listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		go func() {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	<-gctx.Done()
	ctrl.Shutdown(context.Background())

	if err := g.Wait(); err != nil {
		logger.Error("relay exited with error", "error", err)
		return err
	}
	return nil
}

func splitPrefixes(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
