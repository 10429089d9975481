package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/nanoplay/internal/config"
	"github.com/zsiec/nanoplay/internal/dashboard"
	"github.com/zsiec/nanoplay/internal/health"
	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/playback"
	"github.com/zsiec/nanoplay/internal/playback/codec"
	"github.com/zsiec/nanoplay/internal/playback/codec/libav"
	"github.com/zsiec/nanoplay/internal/playback/codec/native"
	"github.com/zsiec/nanoplay/internal/playback/ingest"
	"github.com/zsiec/nanoplay/internal/playback/registry"
	"github.com/zsiec/nanoplay/internal/playback/render"
	"github.com/zsiec/nanoplay/internal/server"
	"github.com/zsiec/nanoplay/pkg/version"
)

// errDashboardClosed ends the run when the user quits the dashboard.
var errDashboardClosed = errors.New("dashboard closed")

func main() {
	var (
		configPath  string
		showVersion bool
		showTUI     bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showTUI, "tui", false, "Show the terminal dashboard")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// The dashboard owns the terminal, so console logs go to a file.
	if showTUI && (cfg.Logging.Output == "stdout" || cfg.Logging.Output == "stderr") {
		cfg.Logging.Output = "logs/nanoplay.log"
	}

	base, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewService(base)

	info := version.GetInfo()
	log.WithFields(map[string]interface{}{
		"version": info.Short(),
		"libav":   info.HasTag("libav"),
	}).Info("Starting nanoplay")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, showTUI); err != nil {
		log.WithError(err).Error("Playback failed")
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger, showTUI bool) error {
	pcfg, err := playback.ConfigFromSettings(&cfg.Playback)
	if err != nil {
		return err
	}

	lib, err := openBackend(cfg.Playback.Decoder, log)
	if err != nil {
		return err
	}

	player, err := playback.New(pcfg, lib, log)
	if err != nil {
		_ = lib.Close()
		return err
	}
	defer func() {
		if err := player.Stop(); err != nil {
			log.WithError(err).Error("Player teardown failed")
		}
	}()

	if cfg.Playback.Render.Enabled {
		sink, err := render.NewSink(cfg.Playback.Render.Sink)
		if err != nil {
			return err
		}
		player.SetOutputs(sink, sink)
	}

	srv := server.New(&cfg.Server, log)
	srv.Health().Register(health.NewCodecChecker(lib, pcfg.Codecs()...))
	srv.Health().Register(playback.NewStreamChecker(player))

	var reg registry.Registry
	if cfg.Playback.Registry.Enabled {
		client, err := connectRedis(ctx, &cfg.Redis, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.WithError(err).Error("Failed to close Redis connection")
			}
		}()
		rc := cfg.Playback.Registry
		reg = registry.NewRedisRegistry(client, log, rc.KeyPrefix, rc.TTL)
		player.SetRegistry(reg)
		srv.Health().Register(health.NewRedisChecker(client))
	}

	handlers := playback.NewHandlers(player, reg, srv.ErrorHandler(), log)
	srv.RegisterRoutes(handlers.RegisterRoutes)

	if err := player.Start(ctx); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	log.WithField("session_id", player.ID()).Info("Session started")

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		g.Go(func() error { return srv.Start(gctx) })
	}
	if cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics, log) })
	}
	if cfg.Ingest.Enabled {
		ln, err := ingest.NewListener(ingestConfig(cfg.Ingest, pcfg, log), player)
		if err != nil {
			return err
		}
		if err := ln.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return ln.Stop()
		})
	}
	if showTUI {
		g.Go(func() error {
			if err := dashboard.Run(gctx, player.GetStats); err != nil {
				return err
			}
			if gctx.Err() == nil {
				return errDashboardClosed
			}
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, errDashboardClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openBackend(dc config.DecoderConfig, log logger.Logger) (codec.Library, error) {
	switch dc.Backend {
	case native.BackendName:
		return native.New(log), nil
	case libav.BackendName:
		return libav.New(log, dc.LogLevel)
	}
	return nil, fmt.Errorf("unknown decoder backend %q", dc.Backend)
}

func ingestConfig(ic config.IngestConfig, pcfg playback.Config, log logger.Logger) ingest.Config {
	return ingest.Config{
		ListenAddr:     ic.ListenAddr,
		AudioPort:      ic.AudioPort,
		VideoPort:      ic.VideoPort,
		DisableAudio:   pcfg.Audio == nil,
		DisableVideo:   pcfg.Video == nil,
		BufferSize:     ic.BufferSize,
		ReadTimeout:    ic.ReadTimeout,
		MaxPacketBytes: ic.MaxPacketBytes,
		ReinitOnSSRC:   ic.ReinitOnSSRC,
		Logger:         log,
	}
}

func connectRedis(ctx context.Context, rc *config.RedisConfig, log logger.Logger) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        rc.Addresses,
		Password:     rc.Password,
		DB:           rc.DB,
		MaxRetries:   rc.MaxRetries,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, rc.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.WithField("addrs", rc.Addresses).Info("Connected to Redis")
	return client, nil
}

// serveMetrics runs the Prometheus endpoint until ctx is done.
func serveMetrics(ctx context.Context, mc config.MetricsConfig, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(mc.Path, promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", mc.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.WithField("addr", srv.Addr).Info("Starting metrics server")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
