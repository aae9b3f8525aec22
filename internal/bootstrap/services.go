package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kirbydesk/simplify-engine/config"
	"github.com/kirbydesk/simplify-engine/internal/adapters/cache"
	"github.com/kirbydesk/simplify-engine/internal/adapters/executor"
	"github.com/kirbydesk/simplify-engine/internal/adapters/llm"
	"github.com/kirbydesk/simplify-engine/internal/core"
	"github.com/kirbydesk/simplify-engine/internal/data"
	"github.com/kirbydesk/simplify-engine/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Queue    *service.QueueService
	Cache    *service.TranslationCache
	Budget   *service.BudgetLedger
	Engine   *service.Engine
	Reaper   *service.ReaperService
	Executor core.Executor
	Variants core.VariantConfigRepository
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	JobRepo     *data.JobRepo
	VariantRepo core.VariantConfigRepository
	ContentRepo *data.ContentRepo
	ReportRepo  *data.ReportRepo
	CacheRepo   *data.CacheRepo
	BudgetRepo  *data.BudgetRepo
	LockRepo    *data.WorkerLockRepo
}

// buildRepositories builds repositories backing service ports; no business
// rules here. The variant config repo is wrapped in the in-process
// read-through cache.
func buildRepositories(deps ServiceDeps) (*serviceRepositories, error) {
	tp := &data.RealTimeProvider{}

	variants, err := cache.NewCachedVariantRepo(cache.CachedVariantRepoOptions{
		Inner:  data.NewVariantConfigRepo(deps.DB, tp),
		Config: deps.Config.VariantCache,
		Logger: deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build variant cache: %w", err)
	}

	return &serviceRepositories{
		JobRepo: data.NewJobRepo(deps.DB, data.RepoConfig{
			Logger:       deps.Logger,
			TimeProvider: tp,
		}),
		VariantRepo: variants,
		ContentRepo: data.NewContentRepo(deps.DB, tp),
		ReportRepo:  data.NewReportRepo(deps.DB, tp),
		CacheRepo:   data.NewCacheRepo(deps.DB, tp),
		BudgetRepo:  data.NewBudgetRepo(deps.DB, tp),
		LockRepo:    data.NewWorkerLockRepo(deps.RedisClient),
	}, nil
}

// BuildServices wires the full service graph from configuration and
// connections.
func BuildServices(deps ServiceDeps) (*ServiceContainer, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.DB == nil {
		return nil, errors.New("database connection is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deps.Logger = logger

	repos, err := buildRepositories(deps)
	if err != nil {
		return nil, err
	}

	translationCache := service.NewTranslationCache(service.TranslationCacheOptions{
		Repo:   repos.CacheRepo,
		Logger: logger,
	})

	budget := service.NewBudgetLedger(service.BudgetLedgerOptions{
		Repo:   repos.BudgetRepo,
		Logger: logger,
	})

	queue := service.NewQueueService(service.QueueServiceOptions{
		Jobs:    repos.JobRepo,
		Reports: repos.ReportRepo,
		Logger:  logger,
	})

	providers := llm.NewFactory(llm.FactoryOptions{
		Config: deps.Config.Providers,
		Logger: logger,
	})

	engine := service.NewEngine(service.EngineOptions{
		Jobs:      repos.JobRepo,
		Lock:      repos.LockRepo,
		Variants:  repos.VariantRepo,
		Content:   repos.ContentRepo,
		Reports:   repos.ReportRepo,
		Cache:     translationCache,
		Budget:    budget,
		Providers: providers,
		Filter:    service.NewFieldFilter(logger),
		Detector:  service.NewChangeDetector(),
		Prompts:   service.NewPromptBuilder(),
		Masker:    service.NewContentMasker(),
		Config:    deps.Config.Worker,
		Logger:    logger,
	})

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Store:   repos.JobRepo,
		Reports: repos.ReportRepo,
		Config:  deps.Config.Reaper,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build reaper: %w", err)
	}

	var exec core.Executor
	if deps.Config.JobID != "" {
		exec = executor.NewInlineExecutor(engine, logger)
	} else {
		exec = executor.NewBackgroundExecutor(logger)
	}

	return &ServiceContainer{
		Queue:    queue,
		Cache:    translationCache,
		Budget:   budget,
		Engine:   engine,
		Reaper:   reaper,
		Executor: exec,
		Variants: repos.VariantRepo,
	}, nil
}

// RunServicesConfig configures RunServicesWithShutdown.
type RunServicesConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal is received or a service
// fails.
func RunServicesWithShutdown(cfg RunServicesConfig) error {
	if cfg.Config == nil || cfg.Services == nil {
		return errors.New("run services: config and services are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Config.IsWorkerEnabled() {
		logger.Info("background service started", "service", "worker")
		group.Go(func() error {
			if err := cfg.Services.Engine.Run(groupCtx); err != nil {
				return fmt.Errorf("worker failed: %w", err)
			}
			return nil
		})
	}

	if cfg.Config.IsReaperEnabled() {
		logger.Info("background service started", "service", "reaper")
		group.Go(func() error {
			if err := cfg.Services.Reaper.Run(groupCtx); err != nil {
				return fmt.Errorf("reaper failed: %w", err)
			}
			return nil
		})
	}

	err := group.Wait()
	if ctx.Err() != nil {
		logger.Info("services stopped")
		return nil
	}
	return err
}

// RunInlineJob processes a single job synchronously and returns. Used when
// the process is launched for one specific job instead of queue draining.
func RunInlineJob(ctx context.Context, services *ServiceContainer, jobID string, logger *slog.Logger) error {
	if services == nil {
		return errors.New("run inline job: services are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("running single job", "job_id", jobID)
	if err := services.Executor.Execute(ctx, jobID); err != nil {
		return fmt.Errorf("process job %s: %w", jobID, err)
	}
	return nil
}
