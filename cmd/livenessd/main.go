package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/orion-liveness/internal/api"
	"github.com/e7canasta/orion-liveness/internal/config"
	"github.com/e7canasta/orion-liveness/internal/control"
	"github.com/e7canasta/orion-liveness/internal/emitter"
	"github.com/e7canasta/orion-liveness/internal/logger"
	"github.com/e7canasta/orion-liveness/internal/telemetry"
	"github.com/e7canasta/orion-liveness/modules/camera"
	"github.com/e7canasta/orion-liveness/modules/camera/gstreamer"
	"github.com/e7canasta/orion-liveness/modules/capture"
	"github.com/e7canasta/orion-liveness/modules/facecapture"
	"github.com/e7canasta/orion-liveness/modules/liveness"
	"github.com/e7canasta/orion-liveness/modules/presence"
	"github.com/e7canasta/orion-liveness/modules/stability"
)

const (
	defaultConfigPath = "config/liveness.yaml"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Log.Level = "debug"
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	slog.Info("starting liveness daemon",
		"config", *configPath,
		"instance_id", cfg.InstanceID,
		"camera_source", cfg.Camera.Source,
		"flow_variant", cfg.Flow.Variant,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("liveness daemon failed", "error", err)
		os.Exit(1)
	}
	slog.Info("liveness daemon stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	metrics := telemetry.New()

	source, err := newSource(cfg)
	if err != nil {
		return err
	}
	mgr, err := camera.NewManager(source, cfg.ManagerConfig())
	if err != nil {
		return err
	}
	defer mgr.Release()

	if err := metrics.RegisterCamera(mgr.Stats); err != nil {
		return fmt.Errorf("register camera metrics: %w", err)
	}

	analyzer, err := presence.NewAnalyzer(cfg.AnalyzerConfig())
	if err != nil {
		return err
	}
	stabCfg, err := cfg.StabilityConfig()
	if err != nil {
		return err
	}
	controller, err := stability.NewController(stabCfg)
	if err != nil {
		return err
	}
	engine, err := capture.NewEngine(cfg.CaptureEngineConfig(), mgr)
	if err != nil {
		return err
	}

	client, err := liveness.NewHTTPClient(cfg.HTTPClientConfig())
	if err != nil {
		return err
	}
	orch, err := liveness.NewOrchestrator(client, cfg.OrchestratorConfig(), liveness.WithStepObserver(metrics))
	if err != nil {
		return err
	}

	opts := []facecapture.Option{facecapture.WithObserver(metrics)}
	var em *emitter.MQTTEmitter
	if cfg.MQTT.Enabled {
		em = emitter.NewMQTTEmitter(emitter.Config{
			Broker:     cfg.MQTT.Broker,
			InstanceID: cfg.InstanceID,
			Topic:      cfg.MQTT.Topic,
			QoS:        cfg.MQTT.QoS,
			Encoding:   emitter.Encoding(cfg.MQTT.Encoding),
		})
		if err := em.Connect(ctx); err != nil {
			return err
		}
		defer em.Disconnect()
		opts = append(opts, facecapture.WithSink(em))
	}

	flow, err := facecapture.NewFlow(cfg.FlowConfig(), facecapture.Components{
		Device:     mgr,
		Scorer:     analyzer,
		Controller: controller,
		Capturer:   engine,
		Verifier:   orch,
	}, opts...)
	if err != nil {
		return err
	}

	if em != nil && cfg.MQTT.Control {
		ctl, err := control.NewHandler(control.Config{
			Topic:         cfg.MQTT.ControlTopic,
			ResponseTopic: cfg.MQTT.ResponseTopic,
			QoS:           cfg.MQTT.QoS,
		}, em.Client(), flow)
		if err != nil {
			return err
		}
		if err := ctl.Start(ctx); err != nil {
			return err
		}
		// deferred after em.Disconnect, so it runs first
		defer ctl.Stop()
	}

	router := api.NewRouter(api.NewHandler(flow, log), log, metrics.Handler())
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("api: listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

		// a running capture holds an open request; cancel it first
		flow.Cancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newSource(cfg *config.Config) (camera.Source, error) {
	switch cfg.Camera.Source {
	case "test":
		slog.Warn("camera: using synthetic test source")
		return camera.NewTestSource(cfg.Camera.TestFPS), nil
	default:
		return gstreamer.NewSource(cfg.DeviceConfig())
	}
}
