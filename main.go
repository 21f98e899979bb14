package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nixxel-company-limited/starlan-emulator/adapter"
	"github.com/nixxel-company-limited/starlan-emulator/config"
	"github.com/nixxel-company-limited/starlan-emulator/discovery"
	"github.com/nixxel-company-limited/starlan-emulator/httpserver"
	"github.com/nixxel-company-limited/starlan-emulator/logging"
	"github.com/nixxel-company-limited/starlan-emulator/metrics"
	"github.com/nixxel-company-limited/starlan-emulator/printer"
	"github.com/nixxel-company-limited/starlan-emulator/protocol"
	"github.com/nixxel-company-limited/starlan-emulator/server"
	"github.com/nixxel-company-limited/starlan-emulator/storage"
)

func main() {
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("emulator stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(reg)

	store := storage.NewRawStore(afero.NewOsFs(), cfg.Printer.OutputDir, cfg.Printer.LineWidth)
	logger.Info("capturing print jobs", zap.String("dir", store.Dir()))
	device := printer.New(store, logger.Named("printer"), printer.WithSettleDelay(cfg.Printer.SettleDelay))
	trie := protocol.MustBuildTrie(protocol.DefaultTable())

	var mirror adapter.Adapter
	if cfg.Mirror.Enable {
		usb, err := adapter.NewUSBAdapter(cfg.Mirror.VID, cfg.Mirror.PID)
		if err == nil {
			err = usb.Open()
		}
		if err != nil {
			logger.Warn("usb mirror unavailable", zap.Error(err))
		} else {
			defer usb.Close()
			mirror = usb
			logger.Info("usb mirror attached")
		}
	}

	queue := server.New("queue", cfg.Queue.Addr,
		server.NewQueueHandler(device, trie, mirror, appMetrics, logger.Named("queue")),
		logger,
		server.WithReadTimeout(cfg.Queue.ReadTimeout),
		server.WithAcceptHook(func() { appMetrics.Connections.WithLabelValues("queue").Inc() }))
	state := server.New("state", cfg.State.Addr,
		server.NewStateHandler(device, appMetrics, logger.Named("state")),
		logger,
		server.WithReadTimeout(cfg.State.ReadTimeout),
		server.WithAcceptHook(func() { appMetrics.Connections.WithLabelValues("state").Inc() }))

	if cfg.Discovery.Enable {
		responder, err := startDiscovery(cfg.Discovery, appMetrics, logger.Named("discovery"))
		if err != nil {
			logger.Error("discovery disabled", zap.Error(err))
		} else {
			go func() {
				if err := responder.Serve(ctx); err != nil {
					logger.Error("discovery stopped", zap.Error(err))
				}
			}()
		}
	}

	if cfg.HTTP.Enable {
		routes := httpserver.Routes{
			Printer: device,
			Jobs:    store,
			Ready:   func() bool { return queue.IsRunning() && state.IsRunning() },
		}
		if cfg.Metrics.Enable {
			routes.MetricsPath = cfg.Metrics.Path
			routes.Metrics = metrics.Handler(reg)
		}
		httpSrv := httpserver.New(cfg.HTTP, routes)
		go func() {
			if err := httpSrv.Start(); err != nil {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	// either print service failing stops the other
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(gctx) })
	g.Go(func() error { return state.Run(gctx) })

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		logger.Info("emulator shut down")
		return nil
	}
	return err
}

func startDiscovery(cfg config.DiscoveryConfig, m *metrics.AppMetrics, logger *zap.Logger) (*discovery.Responder, error) {
	mac, err := discovery.ResolveHardwareAddr(cfg.MAC, logger)
	if err != nil {
		return nil, err
	}
	return discovery.Listen(cfg.Addr, mac, discovery.NewRateLimiter(cfg.RatePerSec, cfg.Burst), m, logger)
}
