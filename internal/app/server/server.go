package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ad-traffic-router/internal/api"
	"ad-traffic-router/internal/config"
	"ad-traffic-router/internal/engine"
	"ad-traffic-router/internal/quota"
	"ad-traffic-router/internal/seed"
	"ad-traffic-router/internal/storage"
	"ad-traffic-router/internal/targets"
	"ad-traffic-router/version"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

const shutdownGrace = 10 * time.Second

// Server is the wired service: store, registry, tracker, engine and the
// HTTP front.
type Server struct {
	cfg   config.Config
	store storage.Gateway
	http  *http.Server
}

// New opens the store, applies the seed file when one is configured and
// builds the HTTP handler. The caller owns Close.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	reg := targets.NewRegistry(store)
	tracker := quota.NewTracker(store,
		quota.WithLegacyDayKey(cfg.Quota.LegacyDayKey),
		quota.WithCounterTTL(cfg.Quota.CounterTTL),
	)

	if cfg.Seed.TargetsFile != "" {
		ts, err := seed.Load(cfg.Seed.TargetsFile)
		if err == nil {
			var n int
			n, err = seed.Apply(ctx, reg, ts)
			log.Info().Str("file", cfg.Seed.TargetsFile).Int("created", n).Int("listed", len(ts)).Msg("seed applied")
		}
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("seed: %w", err), store.Close())
		}
	}

	eng := engine.NewEngine(reg, tracker)
	h := api.NewHandler(reg, eng, store)

	return &Server{
		cfg:   cfg,
		store: store,
		http: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      api.Router(h, cfg),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: cfg.Server.RequestTimeout + time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

func (s *Server) Handler() http.Handler { return s.http.Handler }

// Serve listens until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Server.Addr).Str("version", version.Version).Str("store", s.cfg.Store.Driver).Msg("http server starting")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown...")
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.http.Shutdown(shCtx)
}

func (s *Server) Close() error { return s.store.Close() }

// Run serves cfg until SIGINT or SIGTERM.
func Run(cfg config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup")
	}

	err = srv.Serve(ctx)
	err = multierr.Append(err, srv.Close())
	if err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
	log.Info().Msg("bye")
}
