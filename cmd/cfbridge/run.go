package cfbridge

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/edgeflare/cfbridge/pkg/bridge"
	"github.com/edgeflare/cfbridge/pkg/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	metricsEnabled bool
	metricsAddr    string
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"r"},
	Short:   "Run the bridge",
	Long: `Run one changefeed consumer per configured table and publish every change
to the broker until interrupted. On SIGINT or SIGTERM the consumers stop and
queued changes are delivered before exiting.`,
	RunE: runBridge,
}

func runBridge(cmd *cobra.Command, args []string) error {
	applyMetricsFlags(cmd)

	b, err := bridge.New(*cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer func() {
		stopMetrics()
		wg.Wait()
	}()
	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(metricsCtx, &wg, &metrics.PromServerOpts{Addr: cfg.Metrics.Addr, Logger: zap.L()})
	}

	return b.Run(ctx)
}

// applyMetricsFlags lets explicitly set flags override the loaded config.
func applyMetricsFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("metrics") {
		cfg.Metrics.Enabled = metricsEnabled
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
}

func init() {
	runCmd.Flags().BoolVar(&metricsEnabled, "metrics", false, "Enable Prometheus metrics server")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9100", "Prometheus metrics server address")
}
