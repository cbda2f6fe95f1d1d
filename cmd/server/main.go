// Command server runs the visual-regression and browser-automation API: the
// JSON/HTTP surface of §6, backed by the browser worker pool, blob store,
// secret store and LLM capability factory.
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

	"github.com/brainzlab/vision/internal/actioncache"
	"github.com/brainzlab/vision/internal/aiexecutor"
	"github.com/brainzlab/vision/internal/baseline"
	"github.com/brainzlab/vision/internal/blobstore"
	"github.com/brainzlab/vision/internal/browsercap"
	"github.com/brainzlab/vision/internal/comparison"
	"github.com/brainzlab/vision/internal/config"
	"github.com/brainzlab/vision/internal/credential"
	"github.com/brainzlab/vision/internal/llmcap"
	"github.com/brainzlab/vision/internal/metrics"
	"github.com/brainzlab/vision/internal/pool"
	"github.com/brainzlab/vision/internal/secretstore"
	"github.com/brainzlab/vision/internal/server"
	"github.com/brainzlab/vision/internal/store"
	"github.com/brainzlab/vision/internal/testrun"
	"github.com/brainzlab/vision/pkg/logger"

	"go.uber.org/zap"
)

// reloaderLogAdapter satisfies config.Logger against the zap-based logger,
// which the config package deliberately never imports.
type reloaderLogAdapter struct{ log *logger.Logger }

func (a reloaderLogAdapter) Info(msg string, _ ...interface{})  { a.log.Info(msg) }
func (a reloaderLogAdapter) Error(msg string, _ ...interface{}) { a.log.Error(msg) }

func main() {
	configPath := flag.String("config", "config.yaml", "path to the service config file")
	flag.Parse()

	fmt.Println("vision-regress API server")
	fmt.Println("==========================")

	reloader := config.NewReloader(*configPath)
	if err := reloader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v (continuing with environment + defaults)\n", err)
	}
	cfg := reloader.GetConfig()
	if cfg == nil {
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

	reloader.SetLogger(reloaderLogAdapter{log: log})
	if err := reloader.Start(); err != nil {
		log.Warn("config_hot_reload_unavailable", zap.Error(err))
	} else {
		defer reloader.Stop()
	}

	mcol := metrics.New()
	st := store.New()

	pools := pool.NewManager(pool.Config{
		MaxWorkers:      cfg.BrowserPoolSize,
		CheckoutTimeout: cfg.BrowserPoolTimeout,
	}, log)
	cap := browsercap.NewLocal(pools)

	blobs := blobstore.New(blobstore.Config{
		BaseURL: cfg.BlobStoreURL,
		Token:   cfg.BlobStoreToken,
		Timeout: cfg.BlobStoreTimeout,
	})
	vault := secretstore.New(secretstore.Config{
		BaseURL:      cfg.VaultBaseURL,
		ServiceToken: cfg.VaultServiceToken,
		Timeout:      cfg.VaultTimeout,
	})

	creds := credential.New(st, vault, "production")
	llms := llmcap.NewFactory(llmcap.EnvKeySource)
	ac := actioncache.New(st)
	baselines := baseline.New(st)
	comparisons := comparison.New(st, blobs, baselines, log)
	testruns := testrun.New(st, cap, blobs, comparisons, baselines, log)
	executor := aiexecutor.New(st, cap, llms, ac, creds, blobs, aiexecutor.Config{}, log)

	srv := server.New(cfg, st, cap, blobs, llms, ac, creds, comparisons, baselines, testruns, executor, mcol, log)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutdown_signal_received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", zap.Error(err))
		}
		_ = pools.Close()
	}()

	log.Info("server_starting", zap.String("addr", cfg.ListenAddr))
	fmt.Printf("listening on %s\n", cfg.ListenAddr)
	fmt.Println("press Ctrl+C to stop")

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server_error", zap.Error(err))
	}
	log.Info("server_stopped")
}
