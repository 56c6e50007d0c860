// Command fossild mounts a fossil image and keeps it mounted: it runs
// the periodic flush and snapshot timers, serves Prometheus metrics, and
// waits for a termination signal to unmount cleanly.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/archivefs/fossil/internal/cli/fsopen"
	"github.com/archivefs/fossil/internal/logger"
	"github.com/archivefs/fossil/internal/telemetry"
	"github.com/archivefs/fossil/pkg/config"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "config file (default: $XDG_CONFIG_HOME/fossil/config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fossild: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "fossild",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "fossild",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("init profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Shutdown(ctx)
		logger.Info("metrics server listening", "port", cfg.Metrics.Port)
	}

	handle, err := fsopen.Open(ctx, cfg, reg)
	if err != nil {
		return err
	}
	logger.Info("fossild mounted", "path", cfg.Disk.Path, "version", version, "commit", commit)

	if configPath != "" || config.DefaultConfigExists() {
		watchPath := configPath
		if watchPath == "" {
			watchPath = config.GetDefaultConfigPath()
		}
		if watcher, err := config.Watch(watchPath); err != nil {
			logger.Warn("config hot-reload unavailable", "error", err)
		} else {
			defer watcher.Close()
			go watchConfig(watcher)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("fossild shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan error, 1)
	go func() { done <- handle.Close(shutdownCtx) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	case <-time.After(cfg.ShutdownTimeout):
		return fmt.Errorf("shutdown: timed out after %s", cfg.ShutdownTimeout)
	}

	logger.Info("fossild stopped")
	return nil
}

// watchConfig applies the live-reloadable subset of a changed
// configuration: logging level and format. Disk, cache, and venti
// settings take effect only on the next mount.
func watchConfig(w *config.Watcher) {
	for {
		select {
		case cfg, ok := <-w.Updates():
			if !ok {
				return
			}
			logger.SetLevel(cfg.Logging.Level)
			logger.SetFormat(cfg.Logging.Format)
			logger.Info("configuration reloaded", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			logger.Warn("config reload failed", "error", err)
		}
	}
}
