package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campeche/checkout/internal/domain/catalog"
	"github.com/campeche/checkout/internal/domain/coupon"
	"github.com/campeche/checkout/internal/domain/eligibility"
	"github.com/campeche/checkout/internal/domain/invoice"
	"github.com/campeche/checkout/internal/domain/notify"
	"github.com/campeche/checkout/internal/handler"
	"github.com/campeche/checkout/internal/pubsub"
	"github.com/campeche/checkout/internal/storage/memory"
	"github.com/campeche/checkout/internal/storage/postgres"
	"github.com/campeche/checkout/pkg/health"
	"github.com/campeche/checkout/pkg/httpmiddleware"
)

const serviceName = "campeche-checkout"

// Store is everything the service needs from a storage backend.
type Store interface {
	invoice.Store
	catalog.Repository
	coupon.Store
	eligibility.Repository
	notify.Sink
	notify.Inbox
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	store, closeStore, err := openStore(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := build(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg, store)
	if err != nil {
		return err
	}
	defer svc.Close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.Handler,
	}

	// The dispatcher outlives the server so events from in-flight requests
	// are still delivered during shutdown.
	notifyCtx, stopNotify := context.WithCancel(context.WithoutCancel(ctx))
	defer stopNotify()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Dispatcher.Run(notifyCtx)
	})
	g.Go(func() error {
		return svc.Health.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		defer stopNotify()
		<-gctx.Done()

		svc.Health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	return g.Wait()
}

// Service is the assembled application minus the listener. Dispatcher and
// Health must be run by the caller.
type Service struct {
	Handler    http.Handler
	Dispatcher *notify.Dispatcher
	Health     *health.Service

	closers []func() error
}

// Close releases connections opened by build.
func (s *Service) Close() {
	for _, c := range s.closers {
		_ = c()
	}
}

// build wires the domain services, notification sinks, health checks and
// HTTP routes on top of store.
func build(
	ctx context.Context,
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	cfg *Config,
	store Store,
) (_ *Service, rerr error) {
	svc := &Service{}
	defer func() {
		if rerr != nil {
			svc.Close()
		}
	}()

	var checks []health.Check
	if p, ok := store.(health.Pinger); ok {
		checks = append(checks, health.Check{
			Name:    "postgres",
			Kind:    health.Readiness,
			Timeout: 5 * time.Second,
			Func:    health.PingCheck(p),
		})
	}

	sinks := []notify.Sink{notify.NewLogSink(lg.Named("notify")), store}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		client := redis.NewClient(opts)
		svc.closers = append(svc.closers, client.Close)

		redisSink := pubsub.NewRedisSink(client, cfg.Notify.History)
		sinks = append(sinks, redisSink)
		checks = append(checks, health.Check{
			Name:    "redis",
			Kind:    health.Readiness,
			Timeout: 2 * time.Second,
			Func:    health.PingCheck(redisSink),
		})
	}
	checks = append(checks, health.Check{
		Name:    "goroutines",
		Kind:    health.Liveness,
		Timeout: time.Second,
		Func:    health.GoroutineCountCheck(10000),
	})

	dispatcher, err := notify.NewDispatcher(lg.Named("notify"), mp, cfg.Notify.QueueSize, sinks...)
	if err != nil {
		return nil, errors.Wrap(err, "create dispatcher")
	}
	svc.Dispatcher = dispatcher

	invoices, err := invoice.NewService(store, eligibility.NewEngine(store, dispatcher), dispatcher,
		invoice.WithMeterProvider(mp),
		invoice.WithTracerProvider(tp),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create invoice service")
	}
	coupons, err := coupon.NewManager(ctx, store, store)
	if err != nil {
		return nil, errors.Wrap(err, "create coupon manager")
	}

	svc.Health = health.New(lg.Named("health"), checks...)
	svc.Health.SetReady(true)

	r := chi.NewRouter()
	// LogRequests reads the route pattern, so it runs inside the router.
	r.Use(
		httpmiddleware.LogRequests(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
	)
	svc.Health.Mount(r)
	r.Route("/api", func(r chi.Router) {
		r.Use(
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			handler.Authenticate([]byte(cfg.JWTSecret)),
		)
		handler.New(invoices, coupons, store).Routes(r)
	})
	svc.Handler = httpmiddleware.Wrap(r,
		httpmiddleware.Recovery(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.RequestID(),
		httpmiddleware.Instrument(serviceName, tp, mp),
	)

	return svc, nil
}

// openStore selects the storage backend. The returned func releases it.
func openStore(ctx context.Context, lg *zap.Logger, cfg *Config) (Store, func(), error) {
	switch cfg.Storage {
	case StorageMemory:
		lg.Warn("Using in-memory storage, data is lost on restart")
		return memory.New(), func() {}, nil
	case StoragePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return postgres.New(pool), pool.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown storage %q", cfg.Storage)
	}
}
