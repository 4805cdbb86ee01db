package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/cobra"

	"github.com/AlexKimmel/GateGuard/internal/auth"
	"github.com/AlexKimmel/GateGuard/internal/config"
	"github.com/AlexKimmel/GateGuard/internal/gateway"
	"github.com/AlexKimmel/GateGuard/internal/obs"
	"github.com/AlexKimmel/GateGuard/internal/proxy"
	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
	"github.com/AlexKimmel/GateGuard/internal/ratelimit/memory"
	"github.com/AlexKimmel/GateGuard/internal/routing"
	"github.com/AlexKimmel/GateGuard/internal/statsink"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger := obs.SetupLogger(cfg.Observability.LogLevel)
		return serve(cmd.Context(), cfg, logger)
	},
}

// app is the assembled gateway with everything that needs closing.
type app struct {
	handler http.Handler
	store   *memory.Store
	sink    *statsink.Redis
	rdb     *redis.Client
}

func (a *app) Close() error {
	var errs []error
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

func newApp(cfg *config.Root, logger zerolog.Logger, reg *prometheus.Registry) (*app, error) {
	catalog, err := cfg.Limits.Catalog()
	if err != nil {
		return nil, err
	}
	rr, err := routing.Build(cfg.Routes)
	if err != nil {
		return nil, err
	}

	a := &app{}
	metrics := obs.NewMetrics(reg, func() int { return a.store.Len() })
	a.store = memory.New(
		memory.WithSweepInterval(cfg.Limits.SweepInterval()),
		memory.WithMaxEntries(cfg.Limits.MaxEntries),
		memory.WithLogger(logger),
		memory.WithSweepHook(metrics.ObserveSweep),
	)
	limiter := ratelimit.NewAdjuster(catalog, a.store, cfg.Limits.AdaptiveConfig(), ratelimit.WithLogger(logger))

	hooks := []gateway.Hooks{{OnDecision: metrics.ObserveDecision, OnOutcome: metrics.ObserveOutcome}}
	if cfg.Stats.Enabled() {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Stats.RedisAddr,
			Password: cfg.Stats.RedisPassword,
			DB:       cfg.Stats.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Stats.RedisAddr).Msg("stats redis unreachable, counters will be dropped until it recovers")
		}
		cancel()
		a.sink = statsink.NewRedis(a.rdb,
			statsink.WithPrefix(cfg.Stats.Prefix),
			statsink.WithTTL(cfg.Stats.TTL()),
			statsink.WithLogger(logger),
		)
		hooks = append(hooks, a.sink.Hooks())
	}

	gw := gateway.Chain(
		proxy.Handler(rr, proxy.NewHTTPTransport()),
		gateway.BodyLimit(cfg.Server.MaxBody()),
		gateway.RouteMatcher(rr, nil),
		metrics.Middleware(nil),
		gateway.RateLimit(limiter, gateway.RateLimitOptions{
			TrustForwardedFor: cfg.Limits.TrustForwardedFor,
			Hooks:             hooks,
			DenialLog:         gateway.NewDenialLog(cfg.Observability.DenialLogPerSec, cfg.Observability.DenialLogBurst),
		}),
	)

	pairs := map[string]string{} // secret -> keyID
	for _, k := range cfg.Auth.Keys {
		pairs[k.Secret] = k.ID
	}
	admin := auth.NewStatic(cfg.Auth.Header, pairs)
	if admin.Len() == 0 {
		logger.Warn().Msg("no admin API keys configured, /admin endpoints will reject every request")
	}

	r := chi.NewRouter()
	r.Use(obs.Logger(logger))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(Version))
	})
	r.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.Middleware)
		r.Get("/ratelimit/stats", auditAdmin("ratelimit stats", gateway.StatsHandler(a.store)))
	})
	r.Mount("/", gw)

	a.handler = r
	return a, nil
}

// auditAdmin logs which admin key read an endpoint.
func auditAdmin(what string, next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.KeyIDFrom(r.Context())
		hlog.FromRequest(r).Info().Str("admin_key", id).Msg(what)
		next.ServeHTTP(w, r)
	}
}

func serve(ctx context.Context, cfg *config.Root, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("close")
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Int("routes", len(cfg.Routes)).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
	return nil
}
