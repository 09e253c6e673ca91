package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/doctorbook/doctorbook/internal/config"
	"github.com/doctorbook/doctorbook/internal/domain/account"
	"github.com/doctorbook/doctorbook/internal/domain/directory"
	"github.com/doctorbook/doctorbook/internal/domain/intent"
	"github.com/doctorbook/doctorbook/internal/domain/scheduling"
	"github.com/doctorbook/doctorbook/internal/platform/auth"
	"github.com/doctorbook/doctorbook/internal/platform/db"
	"github.com/doctorbook/doctorbook/internal/platform/middleware"
	"github.com/doctorbook/doctorbook/internal/platform/notification"
	"github.com/doctorbook/doctorbook/internal/platform/validation"
)

const (
	shutdownTimeout = 10 * time.Second
	requestTimeout  = 30 * time.Second
	maxBodySize     = "1M"
	asynqMaxRetry   = 5

	revocationPruneInterval = 5 * time.Minute
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "doctorbook-server",
		Short: "Doctor appointment booking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// notifier is the notification backend selected by NOTIFY_BACKEND: the queue
// services write to and the loop that drains it.
type notifier struct {
	queue  notification.Queue
	run    func(ctx context.Context) error
	checks []db.Check
	close  func() error
}

func newNotifier(cfg *config.Config, mgr *notification.Manager, logger zerolog.Logger) (*notifier, error) {
	logger = logger.With().Str("component", "notification").Logger()

	if cfg.NotifyBackend != "redis" {
		dcfg := notification.DefaultDispatcherConfig()
		dcfg.Workers = cfg.NotifyWorkers
		dcfg.QueueSize = cfg.NotifyQueueSize
		d := notification.NewDispatcher(mgr, dcfg, logger)
		return &notifier{queue: d, run: d.Run, close: func() error { return nil }}, nil
	}

	opt, rdb, err := notification.RedisOptions(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	q := notification.NewAsynqQueue(opt, asynqMaxRetry)
	w := notification.NewAsynqWorker(opt, mgr, cfg.NotifyWorkers, logger)
	return &notifier{
		queue: q,
		run:   w.Run,
		checks: []db.Check{{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}},
		close: func() error {
			return errors.Join(q.Close(), rdb.Close())
		},
	}, nil
}

func newManager(cfg *config.Config, logger zerolog.Logger) *notification.Manager {
	var email notification.EmailSender = notification.LogEmailSender{Logger: logger}
	if cfg.SMTPHost != "" {
		email = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
			FromName: cfg.EmailFromName,
		})
	}
	var sms notification.SMSSender
	if cfg.SMSEnabled() {
		sms = notification.NewTwilioSender(notification.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioFromNumber,
		})
	}
	return notification.NewManager(email, sms, notification.NewTemplateEngine(), logger)
}

func jwtConfig(cfg *config.Config, revocations *auth.TokenRevocationStore) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: []byte(cfg.JWTSecret),
		Skipper:    auth.AuthSkipper,
		Revoked:    revocations.IsRevoked,
	}
}

// services holds everything the HTTP layer and the CLI need.
type services struct {
	revocations *auth.TokenRevocationStore
	directory   *directory.Service
	accounts    *account.Service
	scheduling  *scheduling.Service
	assistant   *intent.Assistant
}

func newServices(cfg *config.Config, pool *pgxpool.Pool, queue notification.Queue, logger zerolog.Logger) (*services, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	tx := db.NewTxManager(pool, cfg.DBLockTimeout)

	users := directory.NewUserRepoPG(pool)
	dirSvc := directory.NewService(users, directory.NewSpecializationRepoPG(pool), directory.NewDoctorRepoPG(pool))

	issuer := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.AccessTokenTTL)
	accSvc := account.NewService(users, account.NewRefreshTokenRepoPG(pool), tx, issuer,
		account.Config{RefreshTTL: cfg.RefreshTokenTTL}, logger.With().Str("component", "account").Logger())

	schedSvc := scheduling.NewService(scheduling.NewSlotRepoPG(pool), scheduling.NewAppointmentRepoPG(pool), tx, queue,
		scheduling.Config{Location: loc, NotifySMS: cfg.SMSEnabled()},
		logger.With().Str("component", "scheduling").Logger())

	resolver := intent.NewResolver(dirSvc, schedSvc, loc, logger.With().Str("component", "intent").Logger())
	assistant := intent.NewAssistant(resolver, schedSvc, logger.With().Str("component", "chat").Logger())

	return &services{
		revocations: auth.NewTokenRevocationStore(),
		directory:   dirSvc,
		accounts:    accSvc,
		scheduling:  schedSvc,
		assistant:   assistant,
	}, nil
}

func newServer(cfg *config.Config, pool *pgxpool.Pool, svcs *services, mgr *notification.Manager, logger zerolog.Logger, checks ...db.Check) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(rl))
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(middleware.RequestTimeout(requestTimeout))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtConfig(cfg, svcs.revocations)))
	} else {
		e.Use(auth.JWTMiddleware(jwtConfig(cfg, svcs.revocations)))
	}
	e.Use(middleware.Audit(logger.With().Str("component", "audit").Logger()))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, checks...))

	apiV1 := e.Group("/api/v1")

	account.NewHandler(svcs.accounts, svcs.revocations).RegisterRoutes(apiV1)
	directory.NewHandler(svcs.directory).RegisterRoutes(apiV1)

	schedHandler := scheduling.NewHandler(svcs.scheduling, svcs.directory)
	schedHandler.RegisterRoutes(apiV1)
	intent.NewHandler(svcs.assistant, schedHandler.Actor).RegisterRoutes(apiV1)

	admin := apiV1.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	notification.NewHandler(mgr).RegisterRoutes(admin)

	return e
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Notifications
	mgr := newManager(cfg, logger.With().Str("component", "notification").Logger())
	notify, err := newNotifier(cfg, mgr, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up notifications")
	}
	defer func() {
		if err := notify.close(); err != nil {
			logger.Error().Err(err).Msg("closing notification backend")
		}
	}()

	svcs, err := newServices(cfg, pool, notify.queue, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}
	e := newServer(cfg, pool, svcs, mgr, logger, notify.checks...)

	// Workers outlive the HTTP server so messages enqueued by in-flight
	// requests are still delivered.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var g errgroup.Group
	g.Go(func() error {
		logger.Info().Str("backend", cfg.NotifyBackend).Int("workers", cfg.NotifyWorkers).Msg("starting notification workers")
		if err := notify.run(workerCtx); err != nil {
			stop()
			return err
		}
		return nil
	})
	g.Go(func() error {
		return svcs.revocations.Run(workerCtx, revocationPruneInterval)
	})
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		defer stopWorkers()

		logger.Info().Msg("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(sctx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
