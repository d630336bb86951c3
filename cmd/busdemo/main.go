// Command busdemo wires a Bus Router, a recorded "ticks" channel, and a
// Prometheus /metrics endpoint together into one runnable process. It
// exists to demonstrate the library, not as a deployable service.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/adred-codev/busline/bus"
	"github.com/adred-codev/busline/internal/config"
	"github.com/adred-codev/busline/internal/logging"
	"github.com/adred-codev/busline/internal/metrics"
	"github.com/adred-codev/busline/recorder"
	"github.com/adred-codev/busline/serialize"
)

type tick struct {
	Seq int64  `json:"seq"`
	At  string `json:"at"`
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides BUSLINE_LOG_LEVEL)")
	flag.Parse()

	bootstrapLogger := log.New(os.Stdout, "[busdemo] ", log.LstdFlags)

	if _, err := maxprocs.Set(maxprocs.Logger(bootstrapLogger.Printf)); err != nil {
		bootstrapLogger.Printf("automaxprocs: %v", err)
	}
	bootstrapLogger.Printf("GOMAXPROCS: %d", runtime.GOMAXPROCS(0))

	cfg, err := config.Load(nil)
	if err != nil {
		bootstrapLogger.Fatalf("config: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	format := logging.FormatJSON
	if cfg.LogFormat == "pretty" {
		format = logging.FormatPretty
	}
	logger := logging.New(logging.Config{Level: level, Format: format, Component: "busdemo"})
	cfg.LogConfig(logger)

	router := bus.NewRouter(bus.RouterOptions{
		Logger:                   logger,
		LifecycleTrackingEnabled: true,
	})
	defer router.Close()

	collector := metrics.NewCollector(router, prometheus.DefaultRegisterer)
	go collector.Run(5 * time.Second)
	defer collector.Stop()

	if err := os.MkdirAll(cfg.RecordingDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("create recording directory")
	}
	sinkPath := filepath.Join(cfg.RecordingDir, "ticks.busrec")
	sink, err := os.Create(sinkPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open recording sink")
	}
	indexPath := filepath.Join(cfg.RecordingDir, "ticks.busidx")
	indexSink, err := os.Create(indexPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open index sink")
	}
	metaPath := sinkPath + ".meta.json"
	metaSink, err := os.Create(metaPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open metadata sidecar")
	}

	ser := serialize.JSON[tick]{}
	rec, err := recorder.Record[tick](router, "ticks", sink, ser, recorder.RecordOptions{
		IndexSink:     indexSink,
		IndexInterval: cfg.IndexInterval,
		IndexFileName: filepath.Base(indexPath),
		Metadata:      &recorder.Metadata{},
		MetaSink:      metaSink,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("start recording")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go runTicker(ctx, router, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown")
	}

	rec.Dispose()
	if err := rec.Err(); err != nil {
		logger.Error().Err(err).Msg("recording")
	}
	if err := sink.Close(); err != nil {
		logger.Error().Err(err).Msg("close sink")
	}
	if err := indexSink.Close(); err != nil {
		logger.Error().Err(err).Msg("close index sink")
	}
	if err := metaSink.Close(); err != nil {
		logger.Error().Err(err).Msg("close metadata sidecar")
	}
}

// runTicker publishes one tick per second on the "ticks" channel until
// ctx is cancelled, standing in for whatever real workload an embedder
// would publish.
func runTicker(ctx context.Context, router *bus.Router, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var seq int64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			seq++
			t := tick{Seq: seq, At: now.UTC().Format(time.RFC3339)}
			if err := bus.Publish(router, "ticks", t, bus.WithKey("latest"), bus.WithStore(true), bus.WithFrom("busdemo")); err != nil {
				logger.Error().Err(err).Msg("publish tick")
			}
		}
	}
}
