package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/joshp123/epdrelay/internal/archive"
	"github.com/joshp123/epdrelay/internal/components"
	"github.com/joshp123/epdrelay/internal/config"
	"github.com/joshp123/epdrelay/internal/core"
	"github.com/joshp123/epdrelay/internal/device"
	"github.com/joshp123/epdrelay/internal/discovery"
	"github.com/joshp123/epdrelay/internal/events"
	"github.com/joshp123/epdrelay/internal/logging"
	"github.com/joshp123/epdrelay/internal/rate"
	"github.com/joshp123/epdrelay/internal/relay"
	"github.com/joshp123/epdrelay/internal/render"
	"github.com/joshp123/epdrelay/internal/router"
	"github.com/joshp123/epdrelay/internal/server"
	"github.com/joshp123/epdrelay/internal/tasks"
	"github.com/joshp123/epdrelay/internal/uploads"
)

const healthSyncInterval = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP API, discovery and background tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			if path := config.LoadedPath(); path != "" {
				logger.Info().Str("dotenv", path).Msg("loaded .env")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	registry := device.NewRegistry(device.Config{
		PollTimeout:      cfg.PollTimeout,
		DiscoveryTimeout: cfg.DiscoveryTimeout,
		MaxQueueLength:   cfg.MaxQueueLength,
	}, logger)
	pipeline := render.NewPipeline(render.Config{
		Width:          cfg.DisplayWidth,
		Height:         cfg.MainAreaHeight,
		MaxInputPixels: cfg.MaxInputPixels,
	}, logger)

	spool, err := uploads.New(cfg.UploadDir, cfg.UploadMaxBytes, logger)
	if err != nil {
		return err
	}

	var opts relay.Options
	var guard *rate.Guard
	if cfg.MinPollInterval > 0 {
		guard = rate.NewGuard(rate.Named("poll").MinInterval(cfg.MinPollInterval))
		opts.Throttle = guard
	}

	eventsProbe := components.Events(nil)
	var publisher *events.MQTTPublisher
	if cfg.MQTT.Enabled() {
		publisher, err = events.NewMQTTPublisher(cfg.MQTT, logger)
		if err != nil {
			logger.Error().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt unavailable, events disabled")
			eventsProbe.Set(core.HealthError, err.Error())
		} else {
			opts.Events = publisher
			eventsProbe = components.Events(publisher)
		}
	}

	if cfg.Archive.Enabled() {
		store, err := archive.NewS3Store(cfg.Archive)
		if err != nil {
			return fmt.Errorf("frame archive: %w", err)
		}
		opts.Archive = store
	}

	svc := relay.NewService(relay.Config{
		MaxTextLength:     cfg.MaxTextLength,
		Budgets:           cfg.TextBudgets,
		AllowedImageTypes: cfg.AllowedImageTypes,
	}, registry, pipeline, opts, logger)

	discoveryProbe := components.Discovery(cfg.DiscoveryEnabled)
	all := []core.Component{
		components.Relay(registry),
		discoveryProbe,
		eventsProbe,
		components.Archive(cfg.Archive.Enabled()),
		components.Uploads(spool),
	}
	if err := core.ValidateComponents(all); err != nil {
		return err
	}
	status := core.NewStatusService(all)

	metrics := core.MetricsRegistry(all)
	metrics.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "epdrelay_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": components.Version},
	}, func() float64 { return 1 }))

	if err := core.WriteDashboards(cfg.DashboardsDir, all); err != nil {
		logger.Warn().Err(err).Str("dir", cfg.DashboardsDir).Msg("writing dashboards failed")
	}

	api := server.NewAPI(svc, spool, server.APIOptions{
		Metrics:    metrics,
		Status:     status,
		Dashboards: core.DashboardsMap(all),
		PublicDir:  cfg.PublicDir,
	}, logger)
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, api.Handler())

	group := tasks.NewGroup(ctx, logger)
	group.Go("http", httpServer.Run)
	logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")

	if cfg.GRPCAddr != "" {
		grpcServer, err := server.NewGRPCServer(cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		hs := router.RegisterComponents(grpcServer.Server, status)
		group.Go("grpc", grpcServer.Run)
		group.Every("health-sync", healthSyncInterval, func(context.Context) {
			router.Sync(hs, status)
		})
		logger.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
	}

	group.Every("timeout-sweep", cfg.SweepInterval, func(ctx context.Context) {
		svc.SweepTimeouts(ctx)
	})
	group.Every("upload-sweep", cfg.UploadSweepInterval, func(context.Context) {
		spool.Sweep(time.Now(), cfg.UploadMaxAge)
	})
	if guard != nil {
		group.Every("throttle-forget", cfg.SweepInterval, func(context.Context) {
			guard.Forget(time.Now().Add(-cfg.PollTimeout))
		})
	}

	if cfg.DiscoveryEnabled {
		port := strconv.Itoa(cfg.DiscoveryPort)
		disc := discovery.NewService(discovery.Config{
			ListenAddr:        ":" + port,
			BroadcastAddr:     net.JoinHostPort(cfg.BroadcastAddr, port),
			BroadcastInterval: cfg.BroadcastInterval,
			OnHeartbeat: func(address string, created bool) {
				if created {
					svc.AnnounceDiscovered(ctx, address)
				}
			},
		}, registry, logger)
		group.Go("discovery", func(ctx context.Context) error {
			// Losing discovery leaves HTTP registration working.
			if err := disc.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("discovery stopped")
				discoveryProbe.Set(core.HealthError, err.Error())
			}
			return nil
		})
	}

	logger.Info().
		Int("width", cfg.DisplayWidth).
		Int("main_area_height", cfg.MainAreaHeight).
		Bool("discovery", cfg.DiscoveryEnabled).
		Bool("events", opts.Events != nil).
		Bool("archive", opts.Archive != nil).
		Dur("min_poll_interval", cfg.MinPollInterval).
		Msg("epdrelay started")

	err = group.Wait()
	svc.Wait()
	if publisher != nil {
		publisher.Close()
	}
	logger.Info().Msg("epdrelay stopped")
	return err
}
