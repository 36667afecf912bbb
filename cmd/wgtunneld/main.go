// Command wgtunneld drives a wgtunnel adapter from the command line, using
// a loopback engine core and an in-process packet-tunnel provider so the
// adapter's lifecycle can be exercised without a real platform integration.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sabouaram/wgtunnel/adapter"
	"github.com/sabouaram/wgtunnel/engine/loopback"
	"github.com/sabouaram/wgtunnel/tunconfig"
)

var (
	cfgFile string
	v       = viper.New()
	app     = New()
)

func main() {
	root := &cobra.Command{
		Use:   "wgtunneld",
		Short: "Run a userspace WireGuard tunnel adapter",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a tunnel config YAML file")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	v.SetEnvPrefix("WGTUNNELD")
	v.AutomaticEnv()

	root.AddCommand(upCmd(), downCmd(), statsCmd(), blockCmd(), metricsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Start the tunnel from the configured YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := app.Start(context.Background(), cfg); err != nil {
				return err
			}
			fmt.Println("tunnel started")
			return nil
		},
	}
}

func downCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop the running tunnel",
		RunE: func(cmd *cobra.Command, args []string) error {
			// StopOnQueue rather than a plain Stop: wait for any packet,
			// datagram or tick already in flight to finish processing
			// before tearing the tunnel down.
			if err := app.StopOnQueue(context.Background()); err != nil {
				return err
			}
			fmt.Println("tunnel stopped")
			return nil
		},
	}
}

func metricsCmd() *cobra.Command {
	var addr string
	c := &cobra.Command{
		Use:   "metrics",
		Short: "Serve the adapter's Prometheus metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			if err := reg.Register(app.Metrics()); err != nil {
				return fmt.Errorf("wgtunneld: registering metrics: %w", err)
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			fmt.Printf("serving metrics on %s/metrics\n", addr)
			return http.ListenAndServe(addr, mux)
		},
	}
	c.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "address to serve /metrics on")
	return c
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print byte counters for the running tunnel",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := app.Stats()
			fmt.Printf("rx=%d tx=%d state=%s\n", s.BytesReceived, s.BytesSent, app.State())
			return nil
		},
	}
}

func blockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block",
		Short: "Install network settings as a firewall-only kill switch, without starting the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := app.Block(context.Background(), cfg); err != nil {
				return err
			}
			fmt.Println("tunnel blocked")
			return nil
		},
	}
}

func loadConfig() (tunconfig.TunnelConfig, error) {
	path := v.GetString("config")
	if path == "" {
		return tunconfig.TunnelConfig{}, fmt.Errorf("wgtunneld: --config is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return tunconfig.TunnelConfig{}, fmt.Errorf("wgtunneld: reading config: %w", err)
	}
	return tunconfig.Decode(b)
}

// New builds the demo adapter used by this CLI: a loopback engine (no real
// cryptography) over an in-process provider stub.
func New() *adapter.Adapter {
	return adapter.New(context.Background(), loopback.New(), &devProvider{})
}
