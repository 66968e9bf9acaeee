package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-coach/internal/bus"
	"github.com/loqalabs/loqa-coach/internal/config"
	"github.com/loqalabs/loqa-coach/internal/natsserver"
	"github.com/loqalabs/loqa-coach/internal/session"
	"golang.org/x/sync/errgroup"
)

type Runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *session.Store
	bus      *bus.Client
	embedded *natsserver.EmbeddedServer
	ready    atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the daemon until ctx is cancelled or a server fails.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	store, err := NewStore(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build session: %w", err)
	}
	r.store = store
	// The store publishes its final snapshot on Close, before the bus goes away.
	defer r.stopBus()
	defer store.Close()

	if err := r.startBus(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.Handle("GET /metrics", metricHandler)
	NewControl(store, r.logger).Register(mux)

	servers := []*http.Server{{
		Addr:              fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if bind := r.cfg.Telemetry.PrometheusBind; bind != servers[0].Addr {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		servers = append(servers, &http.Server{
			Addr:              bind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			r.logger.Info("http server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("user_id", store.Snapshot().UserID))

	return g.Wait()
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}
	r.embedded = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		r.embedded.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = client
	bus.NewPublisher(client, r.cfg.RuntimeName, busCfg.SubjectPrefix).Attach(r.store)
	return nil
}

func (r *Runtime) stopBus() {
	r.bus.Close()
	r.embedded.Shutdown()
}

func (r *Runtime) healthy() bool {
	if !r.ready.Load() {
		return false
	}
	return !r.cfg.Bus.Enabled || r.bus.Healthy()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
