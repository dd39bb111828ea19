package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/audit"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/config"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/database"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/handler"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/middleware"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/observability"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/queue"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/rbac"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/repository"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/router"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(observability.LogConfig{
		ServiceName: "visit-control",
		Environment: cfg.Env,
		Level:       cfg.LogLevel,
	})
	observability.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, dialect, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, dialect); err != nil {
		return err
	}

	users := repository.NewUserRepo(db)
	if err := bootstrapAdmin(ctx, cfg, users, logger); err != nil {
		return err
	}

	rdb := config.NewRedisClient(logger)
	if rdb != nil {
		defer rdb.Close()
	}

	visits := repository.NewVisitRepo(db)
	refs := repository.NewReferenceRepo(db)
	trail := audit.NewTrail(repository.NewControlLogRepo(db), users, logger)

	var notifier service.Notifier = service.NopNotifier{}
	if cfg.AMQPURL != "" {
		notifier = queue.NewPublisher(cfg.AMQPURL, cfg.VisitQueue, logger)
	}
	visitSvc := service.NewVisitService(service.VisitDeps{
		DB:          db,
		Visits:      visits,
		Refs:        refs,
		Codes:       service.NewCodeGenerator(visits, logger),
		Trail:       trail,
		Notifier:    notifier,
		Logger:      logger,
		AuditPolicy: cfg.AuditPolicy,
	})

	if cfg.QueueConsumerEnabled {
		go func() {
			err := queue.StartVisitConsumer(ctx, queue.ConsumerConfig{
				URL:    cfg.AMQPURL,
				Queue:  cfg.VisitQueue,
				LogDir: cfg.VisitLogDir,
			}, logger)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("visit consumer stopped", slog.Any("err", err))
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Observe(logger))
	e.Use(middleware.RateLimit(config.LoadRateLimitConfig(), rdb, logger))

	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, repository.NewTokenRepo(db), trail, logger), cfg.JWTSecret)
	router.RegisterVisits(e, handler.NewVisitHandler(visitSvc, logger), cfg.JWTSecret)
	router.RegisterAudit(e, handler.NewAuditHandler(trail, logger), cfg.JWTSecret)
	router.RegisterReference(e, handler.NewReferenceHandler(refs, logger), cfg.JWTSecret,
		middleware.ResponseCache(config.LoadCacheConfig(), rdb, logger))

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", addr), slog.String("db", string(dialect)), slog.String("audit_policy", cfg.AuditPolicy))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, database.Dialect, error) {
	if cfg.DBDriver == config.DriverSQLite {
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		return db, database.SQLite, err
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	return db, database.MySQL, err
}

// bootstrapAdmin creates the first administrator from ADMIN_USERNAME and
// ADMIN_PASSWORD when the users table is empty.
func bootstrapAdmin(ctx context.Context, cfg config.Config, users *repository.UserRepo, logger *slog.Logger) error {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return nil
	}
	n, err := users.Count(ctx)
	if err != nil || n > 0 {
		return err
	}
	id, err := users.Create(ctx, repository.NewUser{
		Username:  cfg.AdminUsername,
		Email:     cfg.AdminEmail,
		FirstName: "Administrator",
		Password:  cfg.AdminPassword,
		RoleID:    uint8(rbac.Administrator),
	}, cfg.BcryptCost)
	if err != nil {
		return err
	}
	logger.Info("bootstrap administrator created", slog.Uint64("user_id", id), slog.String("username", cfg.AdminUsername))
	return nil
}
