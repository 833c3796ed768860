package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luminal-ai/genbridge/internal/bus"
	"github.com/luminal-ai/genbridge/internal/config"
	"github.com/luminal-ai/genbridge/internal/discovery"
	"github.com/luminal-ai/genbridge/internal/natsserver"
	"github.com/luminal-ai/genbridge/internal/snapshot"
	"github.com/luminal-ai/genbridge/internal/statestore"
	"github.com/luminal-ai/genbridge/internal/textgen"
)

// Runtime wires telemetry, the bus, the state store and the textgen
// service together and owns their lifecycle.
type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := statestore.Open(ctx, r.cfg.StateStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	adapter, err := r.buildAdapter(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to build adapter: %w", err)
	}

	service := textgen.NewService(ctx, r.cfg.Service, busClient, adapter, store, r.logger)
	if err := service.Start(); err != nil {
		return fmt.Errorf("failed to start textgen service: %w", err)
	}
	defer service.Close()

	registry, err := discovery.NewRegistry(ctx, r.cfg.Node, []string{adapter.ModelID()}, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	defer registry.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("model", adapter.ModelID()),
		slog.String("backend", r.cfg.Backend.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildAdapter restores the adapter from a persisted snapshot when one
// exists, otherwise builds it from config and persists the fresh state.
// Client handles are never part of the snapshot; the provider rebuilds
// them on restore.
func (r *Runtime) buildAdapter(ctx context.Context, store *statestore.Store) (*textgen.Adapter, error) {
	provider := func(ctx context.Context) (textgen.Client, error) {
		return buildClient(r.cfg.Backend)
	}

	registry := snapshot.NewRegistry()
	if err := registry.Register(textgen.StateKind, func() snapshot.State { return new(textgen.State) }); err != nil {
		return nil, err
	}

	payload, err := store.LoadState(ctx, textgen.StateKind, r.cfg.Backend.ModelID)
	if err != nil {
		r.logger.Warn("failed to load adapter state", slog.String("error", err.Error()))
	}
	if len(payload) > 0 {
		state, err := registry.Decode(textgen.StateKind, payload)
		if err != nil {
			r.logger.Warn("failed to decode adapter state", slog.String("error", err.Error()))
		} else if st, ok := state.(*textgen.State); ok {
			adapter, err := textgen.Restore(ctx, *st, provider)
			if err != nil {
				r.logger.Warn("failed to restore adapter state", slog.String("error", err.Error()))
			} else {
				r.logger.Info("adapter restored from snapshot", slog.String("model", adapter.ModelID()))
				return adapter, nil
			}
		}
	}

	client, err := buildClient(r.cfg.Backend)
	if err != nil {
		return nil, err
	}
	adapter, err := textgen.New(r.cfg.Backend.ModelID, paramsFromConfig(r.cfg.Generation), textgen.Options{}, client)
	if err != nil {
		return nil, err
	}

	encoded, err := snapshot.Encode(adapter.State())
	if err != nil {
		r.logger.Warn("failed to encode adapter state", slog.String("error", err.Error()))
		return adapter, nil
	}
	if err := store.SaveState(ctx, textgen.StateKind, adapter.ModelID(), encoded); err != nil {
		r.logger.Warn("failed to persist adapter state", slog.String("error", err.Error()))
	}
	return adapter, nil
}

func buildClient(cfg config.BackendConfig) (textgen.Client, error) {
	switch cfg.Mode {
	case "http":
		return textgen.NewHTTPClient(cfg.Endpoint, 0), nil
	case "exec":
		return textgen.NewExecClient(cfg.Command)
	default:
		return textgen.NewMockClient(), nil
	}
}

func paramsFromConfig(cfg config.GenerationConfig) textgen.Parameters {
	return textgen.Parameters{
		MaxNewTokens:      cfg.MaxNewTokens,
		MinNewTokens:      cfg.MinNewTokens,
		Temperature:       cfg.Temperature,
		TopK:              cfg.TopK,
		TopP:              cfg.TopP,
		RepetitionPenalty: cfg.RepetitionPenalty,
		StopSequences:     cfg.StopSequences,
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
