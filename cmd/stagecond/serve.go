package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/soochol/stagecond/internal/action"
	"github.com/soochol/stagecond/internal/api"
	"github.com/soochol/stagecond/internal/config"
	"github.com/soochol/stagecond/internal/db"
	"github.com/soochol/stagecond/internal/instance"
	"github.com/soochol/stagecond/internal/logging"
	"github.com/soochol/stagecond/internal/notify"
	"github.com/soochol/stagecond/internal/registry"
	"github.com/soochol/stagecond/internal/repository"
	"github.com/soochol/stagecond/internal/services"
)

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

type repositories struct {
	conditions  repository.ConditionRepository
	definitions repository.ActionDefinitionRepository
	mappings    repository.TriggerMappingRepository
	executions  repository.ExecutionRepository
	logs        repository.EvaluationLogRepository
}

// openRepositories returns in-memory repositories, wrapped with Postgres
// persistence when a database URL is configured.
func openRepositories(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repositories, func(), error) {
	memConditions := repository.NewMemoryConditionRepository()
	memDefinitions := repository.NewMemoryDefinitionRepository()
	memMappings := repository.NewMemoryMappingRepository()
	memExecutions := repository.NewMemoryExecutionRepository()
	memLogs := repository.NewMemoryEvaluationLogRepository()

	if cfg.Database.URL == "" {
		logger.Info("no database configured, using in-memory storage")
		return repositories{memConditions, memDefinitions, memMappings, memExecutions, memLogs}, func() {}, nil
	}

	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return repositories{}, nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return repositories{}, nil, err
	}
	logger.Info("connected to database")
	return repositories{
		conditions:  repository.NewPersistentConditionRepository(memConditions, database),
		definitions: repository.NewPersistentDefinitionRepository(memDefinitions, database),
		mappings:    repository.NewPersistentMappingRepository(memMappings, database),
		executions:  repository.NewPersistentExecutionRepository(memExecutions, database),
		logs:        repository.NewPersistentEvaluationLogRepository(memLogs, database),
	}, func() { database.Close() }, nil
}

func newLocker(ctx context.Context, cfg *config.Config) (services.EvaluationLocker, func(), error) {
	mode := services.LockMode(cfg.Lock.Mode)
	if cfg.Lock.Backend != "redis" {
		return services.NewMemoryLocker(mode, cfg.Lock.WaitTimeout), func() {}, nil
	}
	client := services.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	locker := services.NewRedisLocker(client, services.RedisLockerConfig{
		Prefix:        cfg.Redis.KeyPrefix,
		TTL:           cfg.Lock.TTL,
		RenewInterval: cfg.Lock.RenewInterval,
		Mode:          mode,
		WaitTimeout:   cfg.Lock.WaitTimeout,
	})
	return locker, func() { client.Close() }, nil
}

func newFactory(cfg *config.Config, store *instance.Store, mailer notify.Mailer) *action.Factory {
	httpRetry := action.DefaultHTTPRetry
	httpRetry.MaxAttempts = cfg.Executors.HTTPMaxAttempts

	var limiter *rate.Limiter
	if cfg.Executors.HTTPRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Executors.HTTPRatePerSecond), max(cfg.Executors.HTTPBurst, 1))
	}
	return action.NewFactory(action.Deps{
		HTTPClient:    &http.Client{},
		HTTPLimiter:   limiter,
		HTTPTimeout:   cfg.Executors.HTTPTimeout,
		HTTPRetry:     httpRetry,
		PythonBin:     cfg.Executors.PythonBin,
		PythonTimeout: cfg.Executors.PythonTimeout,
		Mailer:        mailer,
		Stages:        store,
		Assigner:      store,
		Logger:        logging.WithModule("action"),
	})
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.WithModule("stagecond")

	repos, closeRepos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepos()

	store := instance.NewStore()
	if cfg.SeedFile != "" {
		if err := store.LoadSeed(cfg.SeedFile); err != nil {
			return err
		}
		logger.Info("loaded seed data", "path", cfg.SeedFile)
	}

	var mailer notify.Mailer
	if cfg.SMTP.Host != "" {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		logger.Warn("smtp not configured, email actions will fail")
	}

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	reg := registry.New(repos.definitions, repos.mappings, registry.Options{
		Namer:   store,
		Cleaner: store,
		Logger:  logging.WithModule("registry"),
	})
	runner := services.NewActionRunner(reg, repos.executions, newFactory(cfg, store, mailer), logging.WithModule("runner"))
	conditions := services.NewConditionService(repos.conditions, logging.WithModule("conditions"))
	dispatcher := services.NewActionDispatcher(services.DispatcherDeps{
		Stages:     store,
		Fields:     store,
		Assigner:   store,
		Recipients: store,
		Mailer:     mailer,
		Runner:     runner,
		Logger:     logging.WithModule("dispatch"),
	})
	audit := services.NewAuditQueue(repos.logs, cfg.Audit.QueueSize, cfg.Audit.Workers, logging.WithModule("audit"))
	orchestrator := services.NewOrchestrator(conditions, store, store, dispatcher, locker, audit,
		services.OrchestratorConfig{
			AutoAdvance:          cfg.Engine.AutoAdvance,
			FetchConcurrency:     cfg.Engine.DataFetchConcurrency,
			ActionTimeout:        cfg.Engine.ActionTimeout,
			NotificationTimeout:  cfg.Engine.NotificationTimeout,
			TriggerActionTimeout: cfg.Engine.TriggerActionTimeout,
		}, logging.WithModule("orchestrator"))

	retention := services.NewRetentionService(repos.logs, cfg.Audit.RetentionDays, cfg.Audit.PurgeSchedule, logging.WithModule("retention"))
	if err := retention.Start(); err != nil {
		return err
	}
	defer retention.Stop()

	srv := api.NewServer(reg, runner, conditions, orchestrator)
	srv.SetRetentionService(retention)
	srv.SetAuditQueue(audit)
	srv.SetLogger(logging.WithModule("api"))

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting stagecond server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}
	if err := audit.Close(shutdownCtx); err != nil {
		logger.Error("audit queue did not drain", "err", err, "pending", audit.Stats().Pending)
	}
	return nil
}
