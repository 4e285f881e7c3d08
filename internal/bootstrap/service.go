// Package bootstrap wires storage, the pickup engine, route advisory and
// evidence storage into an HTTP server from a loaded config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/yashp387/DigitalDump-sub001/internal/api"
	"github.com/yashp387/DigitalDump-sub001/internal/config"
	"github.com/yashp387/DigitalDump-sub001/internal/evidence"
	"github.com/yashp387/DigitalDump-sub001/internal/pickup"
	"github.com/yashp387/DigitalDump-sub001/internal/policy"
	"github.com/yashp387/DigitalDump-sub001/internal/route"
	"github.com/yashp387/DigitalDump-sub001/internal/state"
)

type Service struct {
	Store   state.Store
	Engine  *pickup.Engine
	Advisor *route.Advisor
	Server  *api.Server
}

func New(ctx context.Context, cfg config.Config, logger *log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.Default()
	}
	store, err := newStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	engine := pickup.NewEngine(store, pickup.Options{
		MaxServiceRadiusKm: cfg.Pickup.MaxServiceRadiusKm,
		CandidateLimit:     cfg.Pickup.CandidateLimit,
		Logger:             logger,
	})
	advisor := route.NewAdvisor(store, route.NewMapboxClient(cfg.Route.MapboxBaseURL, cfg.Route.MapboxToken), route.Options{
		Profile: cfg.Route.Profile,
		Timeout: cfg.Route.Timeout,
	})
	proofs, err := evidence.New(ctx, cfg.Evidence)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("evidence store: %w", err)
	}
	admission, err := policy.Load(cfg.Pickup.PolicyFile)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	server := api.NewServer(engine, advisor, proofs, api.Options{
		Tokens:                 cfg.Auth.Tokens,
		CreatesPerMinute:       cfg.Pickup.CreatesPerMinute,
		GlobalCreatesPerMinute: cfg.Pickup.GlobalCreatesPerMinute,
		Policy:                 admission,
		Logger:                 logger,
	})
	if cfg.Route.MapboxToken == "" {
		logger.Printf("COLLECT_MAPBOX_TOKEN is not set; route advisory will report unavailable")
	}
	return &Service{Store: store, Engine: engine, Advisor: advisor, Server: server}, nil
}

func (s *Service) Close() error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.Close()
}

func newStore(ctx context.Context, cfg config.StoreConfig) (state.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "memory":
		return state.NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("COLLECT_POSTGRES_DSN is required when COLLECT_STORE=postgres")
		}
		return state.NewPostgresStore(cfg.PostgresDSN)
	case "sqlite":
		return state.NewSQLiteStore(cfg.SQLitePath)
	case "mongo", "mongodb":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("COLLECT_MONGO_URI is required when COLLECT_STORE=mongo")
		}
		return state.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unsupported COLLECT_STORE value %q", cfg.Kind)
	}
}

// Run serves srv until ctx is cancelled, then shuts it down within
// shutdownTimeout.
func Run(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
