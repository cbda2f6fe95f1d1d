// Command worker runs a standalone browser worker pool node: it pre-warms
// and maintains a pool of headless browser workers and exposes their health
// and Prometheus metrics, without the API surface cmd/server hosts. Deploy
// one or more alongside cmd/server to add capture/AI-task capacity.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brainzlab/vision/internal/config"
	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/metrics"
	"github.com/brainzlab/vision/internal/pool"
	"github.com/brainzlab/vision/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the service config file")
	healthAddr := flag.String("health-addr", ":8081", "health/metrics listen address")
	flag.Parse()

	fmt.Println("vision-regress worker node")
	fmt.Println("===========================")

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v (falling back to environment + defaults)\n", err)
		cfg = &config.Config{}
		cfg.LoadFromEnv()
		cfg.ApplyDefaults()
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	mcol := metrics.New()

	pools := pool.NewManager(pool.Config{
		MaxWorkers:      cfg.VisionWorkerCount,
		CheckoutTimeout: cfg.VisionWorkerTimeout,
	}, log)

	// Warm one pool per the default capture profile; callers against
	// other profiles cause additional keyed pools to spin up lazily.
	defaultProfile := domain.Chromium
	pools.ForKey(string(defaultProfile) + ":1920x1080")

	hooks := metrics.NewPoolHooks(mcol)
	go reportPoolMetrics(pools, hooks, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy"}`)
	})
	mux.Handle("/metrics", mcol.MetricsHandler())
	mux.HandleFunc("/metrics/json", mcol.JSONHandler())

	httpServer := &http.Server{Addr: *healthAddr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("worker_shutdown_signal_received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = pools.Close()
	}()

	log.Info("worker_starting",
		zap.Int("pool_size", cfg.VisionWorkerCount),
		zap.String("health_addr", *healthAddr),
	)
	fmt.Printf("pool size %d, health/metrics on %s\n", cfg.VisionWorkerCount, *healthAddr)
	fmt.Println("press Ctrl+C to stop")

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("worker_health_server_error", zap.Error(err))
	}
	log.Info("worker_stopped")
}

// reportPoolMetrics periodically pushes pool saturation into the Prometheus
// collector's worker gauges, mirroring the teacher's metrics update loop.
func reportPoolMetrics(pools *pool.Manager, hooks *metrics.PoolHooks, log *logger.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m := pools.Metrics()
		hooks.OnWorkerCountsChange(int(m.CurrentActive), int(m.CurrentIdle))
		log.Debug("pool_metrics",
			zap.Int64("total_created", m.TotalCreated),
			zap.Int64("total_reused", m.TotalReused),
			zap.Int32("active", m.CurrentActive),
			zap.Int32("idle", m.CurrentIdle),
		)
	}
}
