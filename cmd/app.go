package cmd

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"plangov/internal/config"
	"plangov/internal/events"
	"plangov/internal/gateway"
	"plangov/internal/manager"
	"plangov/internal/reconciler"
	"plangov/internal/store"
)

// app bundles the wired components every command works with.
type app struct {
	cfg        config.Config
	store      *store.Store
	gateway    gateway.Accessor
	emitter    *events.Emitter
	manager    *manager.PlanManager
	reconciler *reconciler.PlanReconciler
	metrics    *reconciler.Metrics
}

// buildApp wires the full component graph from configuration.
func buildApp(withMetrics bool) (*app, error) {
	cfg, err := config.Load(rootConfigPath)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	var gw gateway.Accessor
	switch cfg.Gateway.Mode {
	case "rest":
		gw = gateway.NewRESTGateway(cfg.Gateway.Endpoint, cfg.Gateway.Timeout.Std())
	case "memory":
		gw = gateway.NewMemoryGateway()
	default:
		s.Close()
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.Gateway.Mode)
	}

	sinks := []events.Sink{events.LogSink{}}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhookSink(cfg.WebhookURL, 10*time.Second))
	}
	emitter := events.NewEmitter(sinks...)

	var metrics *reconciler.Metrics
	if withMetrics {
		metrics = reconciler.NewMetrics(prometheus.DefaultRegisterer)
	}

	rec := reconciler.NewPlanReconciler(s, gw, emitter, metrics, reconciler.Config{
		Region:           cfg.Region,
		StrictMode:       cfg.Reconciler.StrictMode,
		StageRetryDelay:  cfg.Reconciler.StageRetryDelay.Std(),
		BatchParallelism: cfg.Reconciler.BatchParallelism,
	})

	return &app{
		cfg:        cfg,
		store:      s,
		gateway:    gw,
		emitter:    emitter,
		manager:    manager.New(s, gw, emitter, cfg.Region),
		reconciler: rec,
		metrics:    metrics,
	}, nil
}

func (a *app) close() {
	_ = a.store.Close()
}
