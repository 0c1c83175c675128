package cli

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mrz1836/balancewatch/internal/auth"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/metrics"
	"github.com/mrz1836/balancewatch/internal/service/refresh"
	"github.com/mrz1836/balancewatch/internal/store"
)

// engine is a wired coordinator with its configuration and state stores.
type engine struct {
	cfgStore *config.Store
	state    store.Store
	coord    *refresh.Coordinator
	registry *prometheus.Registry
}

// newEngine validates the configuration and builds a coordinator that has
// not been started yet.
func newEngine(cc *CommandContext) (*engine, error) {
	if err := cc.Cfg.Validate(); err != nil {
		return nil, err
	}

	state, err := cc.OpenState(cc.Cfg.Storage)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cfgStore := config.NewStore(cc.Cfg, cc.ConfigPath, cc.Log)
	coord, err := refresh.New(refresh.Options{
		Config:      cfgStore,
		Factory:     cc.Factory,
		Credentials: auth.NewResolver(),
		Store:       state,
		StateKey:    cc.Cfg.Storage.Key,
		Logger:      cc.Log,
		Metrics:     metrics.NewRecorder(registry),
	})
	if err != nil {
		_ = state.Close()
		return nil, err
	}

	return &engine{
		cfgStore: cfgStore,
		state:    state,
		coord:    coord,
		registry: registry,
	}, nil
}

// Close flushes pending state writes, stops the coordinator and releases the
// state store.
func (r *engine) Close(ctx context.Context, log *config.Logger) {
	if err := r.coord.Flush(ctx); err != nil {
		log.Error("flushing balance state: %v", err)
	}
	r.coord.Close()
	if err := r.state.Close(); err != nil {
		log.Error("closing state store: %v", err)
	}
}
