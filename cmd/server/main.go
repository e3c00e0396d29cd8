package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-reservation/internal/config"
	"github.com/iliyamo/event-seat-reservation/internal/database"
	"github.com/iliyamo/event-seat-reservation/internal/handler"
	"github.com/iliyamo/event-seat-reservation/internal/layout"
	"github.com/iliyamo/event-seat-reservation/internal/ledger"
	"github.com/iliyamo/event-seat-reservation/internal/live"
	"github.com/iliyamo/event-seat-reservation/internal/model"
	"github.com/iliyamo/event-seat-reservation/internal/notify"
	"github.com/iliyamo/event-seat-reservation/internal/queue"
	"github.com/iliyamo/event-seat-reservation/internal/repository"
	"github.com/iliyamo/event-seat-reservation/internal/router"
	"github.com/iliyamo/event-seat-reservation/internal/service"
)

func newLogger(prefix string, lvl log.Lvl) *log.Logger {
	lg := log.New(prefix)
	lg.SetLevel(lvl)
	lg.SetHeader(`${time_rfc3339} ${level} ${prefix} ${short_file}:${line}`)
	return lg
}

func main() {
	cfg := config.Load()
	lvl := config.ParseLevel(cfg.LogLevel)
	lg := newLogger("server", lvl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg, lg)
	defer closeStore()

	hub := notify.NewHub(newLogger("notify", lvl))
	opts := service.Options{
		MaxSeatsPerHold: cfg.MaxSeatsPerHold,
		HoldDuration:    cfg.HoldDuration,
		LockTimeout:     cfg.LockTimeout,
		PersistRetries:  cfg.PersistRetries,
		Logger:          newLogger("reservation", lvl),
	}
	if cfg.BookingEventsEnabled {
		opts.Bookings = queue.NewPublisher(cfg.AMQPURL, newLogger("amqp", lvl))
	}
	coord := service.NewCoordinator(ledger.NewRegistry(), store, hub, opts)
	if err := coord.Restore(ctx); err != nil {
		lg.Fatalf("restore events: %v", err)
	}
	if cfg.SeedDemo {
		seedDemo(ctx, coord, lg)
	}

	go service.NewSweeper(coord, cfg.SweepInterval, cfg.SweepWorkers, newLogger("sweeper", lvl)).Run(ctx)
	if cfg.BookingLogConsumer {
		consumer := queue.NewConsumer(cfg.AMQPURL, cfg.BookingLogPath, newLogger("booking-consumer", lvl))
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Errorf("booking consumer stopped: %v", err)
			}
		}()
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig(), lg)
	if rdb != nil {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger = newLogger("http", lvl)
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			c.Logger().Infof("%s %s %d %s %s", v.Method, v.URI, v.Status, v.Latency, v.RemoteIP)
			return nil
		},
	}))
	router.RegisterRoutes(e, router.Deps{
		Handler:   handler.New(coord),
		Live:      live.NewServer(hub, coord, newLogger("live", lvl)),
		JWTSecret: cfg.JWTSecret,
		Redis:     rdb,
		Cache:     config.LoadCacheConfig(),
		RateLimit: config.LoadRateLimitConfig(),
	})

	go func() {
		addr := ":" + cfg.Port
		lg.Infof("listening on %s (env=%s, store=%s)", addr, cfg.Env, cfg.Store)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		lg.Errorf("http shutdown: %v", err)
	}
}

// openStore returns the configured store and a function releasing it.
func openStore(ctx context.Context, cfg config.Config, lg *log.Logger) (repository.Store, func()) {
	if cfg.Store != config.StoreMySQL {
		lg.Warn("using in-memory store, state is lost on restart")
		return repository.NewMemoryStore(), func() {}
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		lg.Fatalf("mysql: %v", err)
	}
	if err := database.EnsureSchema(ctx, db); err != nil {
		lg.Fatalf("mysql schema: %v", err)
	}
	return repository.NewEventRepo(db), func() { _ = db.Close() }
}

// seedDemo creates a small demo event unless it already exists.
func seedDemo(ctx context.Context, coord *service.Coordinator, lg *log.Logger) {
	grid := layout.Grid{
		Rows:        6,
		SeatsPerRow: 10,
		Tiers:       []model.Tier{model.TierPremium, model.TierPremium, model.TierStandard, model.TierStandard},
	}
	seats, err := grid.Seats()
	if err != nil {
		lg.Errorf("demo seed: %v", err)
		return
	}
	ev := model.Event{
		ID:       "demo",
		Title:    "Demo Concert",
		Venue:    "Main Hall",
		StartsAt: time.Now().UTC().Add(7 * 24 * time.Hour).Truncate(time.Hour),
	}
	switch _, err := coord.CreateEvent(ctx, ev, seats); {
	case err == nil:
		lg.Infof("demo event %q seeded with %d seats", ev.ID, len(seats))
	case errors.Is(err, service.ErrEventExists):
	default:
		lg.Errorf("demo seed: %v", err)
	}
}
