/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lesson booking server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (YAML file, .env, environment)
  2. Build the zap logger
  3. Open the store (SQLite or PostgreSQL)
  4. Connect Redis when enabled (slot locks, outbound queue)
  5. Build booking.Service, the scheduler and the HTTP router
  6. Serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config  Path to the YAML config (default: $CONFIG_PATH or config/config.yaml)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests and running jobs (shutdown_timeout)
  3. Close Redis and the database
  4. Exit

EXAMPLES:
  # Local run with SQLite
  ./server -config=config/config.yaml

  # PostgreSQL from the environment
  STORAGE_DRIVER=postgres STORAGE_DSN=postgres://... JWT_SECRET=... ./server

SEE ALSO:
  - config/config.go: Every setting and its environment variable
  - api/server.go: Router configuration
  - booking/service.go: Booking operations
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/lesson-booking/api"
	"github.com/warp/lesson-booking/booking"
	"github.com/warp/lesson-booking/config"
	"github.com/warp/lesson-booking/generic"
	"github.com/warp/lesson-booking/lock"
	"github.com/warp/lesson-booking/notify"
	"github.com/warp/lesson-booking/store/postgres"
	"github.com/warp/lesson-booking/store/sqlite"
	"github.com/warp/lesson-booking/store/sqlstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type store interface {
	api.Store
	Close() error
}

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)

	log, err := config.NewLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log = log.With(zap.String("env", cfg.Env))

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info("store opened", zap.String("driver", cfg.Storage.Driver))

	svcOpts := []booking.Option{
		booking.WithLogger(log.Named("booking")),
		booking.WithEmitter(booking.NopEmitter{}),
	}
	if cfg.Meeting.BaseURL != "" {
		svcOpts = append(svcOpts, booking.WithMeetingLinker(booking.URLLinker{BaseURL: cfg.Meeting.BaseURL}))
	}

	var handlerOpts []api.HandlerOption
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}

		queue := notify.NewQueue(client, notify.WithPrefix(cfg.Redis.Prefix), notify.WithMaxLen(cfg.Redis.QueueMaxLen))
		svcOpts = append(svcOpts,
			booking.WithEmitter(queue),
			booking.WithTestSessions(queue),
			booking.WithSlotLocker(lock.NewFromClient(client, log.Named("lock"))),
		)
		handlerOpts = append(handlerOpts, api.WithQueueMonitor(queue))
		log.Info("redis connected", zap.String("addr", cfg.Redis.Addr), zap.String("prefix", cfg.Redis.Prefix))
	}

	svc := booking.NewService(st, cfg.BookingRules(), svcOpts...)

	var scheduler *api.Scheduler
	if cfg.Scheduler.Enabled {
		loc, err := time.LoadLocation(cfg.Scheduler.TimeZone)
		if err != nil {
			log.Warn("unknown scheduler time zone, using UTC+7", zap.String("time_zone", cfg.Scheduler.TimeZone), zap.Error(err))
			loc = generic.LocalZone
		}
		scheduler, err = api.NewScheduler(svc, api.SchedulerConfig{
			AutoFinish:      cfg.Scheduler.AutoFinish,
			ApprovedLeaves:  cfg.Scheduler.ApprovedLeaves,
			RegularBookings: cfg.Scheduler.RegularBookings,
			Location:        loc,
		}, log.Named("scheduler"))
		if err != nil {
			return err
		}
		handlerOpts = append(handlerOpts, api.WithScheduler(scheduler))
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty; tokens are signed with an empty key")
	}
	handler := api.NewHandler(svc, st, append(handlerOpts, api.WithHandlerLogger(log.Named("api")))...)
	router := api.NewRouter(handler, api.NewAuthenticator(cfg.Auth.JWTSecret), cfg.HTTP.CORSOrigins, log.Named("http"))

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.String("address", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	if scheduler != nil {
		scheduler.Start()
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if scheduler != nil {
			if err := scheduler.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store, error) {
	var opts []sqlstore.Option
	if cfg.Rules.FallbackTeacherID > 0 {
		opts = append(opts, sqlstore.WithFallbackTeacher(generic.TeacherID(cfg.Rules.FallbackTeacherID)))
	}

	switch cfg.Storage.Driver {
	case "postgres":
		return postgres.New(ctx, cfg.Storage.DSN, opts...)
	default:
		return sqlite.New(cfg.Storage.DSN, opts...)
	}
}
