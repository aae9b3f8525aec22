// Command simplify-admin provides operational commands against the
// translation engine's storage: migrations, queue inspection, budget and
// cache maintenance.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirbydesk/simplify-engine/config"
	"github.com/kirbydesk/simplify-engine/internal/bootstrap"
	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const defaultCommandTimeout = 2 * time.Minute

func main() {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}
	logger := bootstrap.InitLogger(cfg.Logging)

	if len(os.Args) < 2 {
		if usageErr := printUsage(); usageErr != nil {
			logger.Error("print usage failed", "error", usageErr)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if writeErr := writef(os.Stderr, "unknown command %q\n\n", cmdName); writeErr != nil {
			logger.Error("print unknown command message failed", "error", writeErr)
		}
		if usageErr := printUsage(); usageErr != nil {
			logger.Error("print usage failed", "error", usageErr)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrate,
		},
		"queue-stats": {
			name:        "queue-stats",
			description: "Show job queue counts by status",
			run:         runQueueStats,
		},
		"reset-stuck": {
			name:        "reset-stuck",
			description: "Reap stuck processing jobs and prune old reports now",
			run:         runResetStuck,
		},
		"budget-summary": {
			name:        "budget-summary",
			description: "Show daily/monthly spend for a provider",
			run:         runBudgetSummary,
		},
		"budget-reset": {
			name:        "budget-reset",
			description: "Reset recorded usage for a provider and period",
			run:         runBudgetReset,
		},
		"cache-stats": {
			name:        "cache-stats",
			description: "Show translation cache entry counts",
			run:         runCacheStats,
		},
		"cache-clear": {
			name:        "cache-clear",
			description: "Clear translation cache entries (all, per page or per language)",
			run:         runCacheClear,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: simplify-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	for _, c := range commands() {
		if err := writef(os.Stdout, "  %-18s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

// withServices connects infrastructure, builds the service graph and runs fn,
// closing connections afterwards.
func withServices(cmdCtx *commandContext, fn func(ctx context.Context, services *bootstrap.ServiceContainer, db *sql.DB) error) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, redisClient, err := connectInfra(cmdCtx)
	if err != nil {
		return err
	}
	defer closeQuietly(db, redisClient, cmdCtx.Logger)

	services, err := bootstrap.BuildServices(bootstrap.ServiceDeps{
		Config:      &cmdCtx.Config,
		DB:          db,
		RedisClient: redisClient,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return err
	}

	return fn(ctx, services, db)
}

//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectInfra(cmdCtx *commandContext) (*sql.DB, redis.UniversalClient, error) {
	dbCfg := bootstrap.DatabaseConfig{
		DBConfig:    cmdCtx.Config.Postgres,
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	}

	db, err := bootstrap.ConnectDB(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}

	redisClient, err := bootstrap.ConnectRedis(dbCfg)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	return db, redisClient, nil
}

func closeQuietly(db *sql.DB, redisClient redis.UniversalClient, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("db close failed", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close failed", "error", err)
		}
	}
}

func runMigrate(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 5*time.Minute, "migration timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, *timeout)
	defer cancel()

	db, redisClient, err := connectInfra(cmdCtx)
	if err != nil {
		return err
	}
	defer closeQuietly(db, redisClient, cmdCtx.Logger)

	return bootstrap.RunMigrations(ctx, db, cmdCtx.Logger)
}

func runQueueStats(cmdCtx *commandContext, args []string) error {
	if len(args) > 0 {
		return errors.New("queue-stats takes no arguments")
	}
	return withServices(cmdCtx, func(ctx context.Context, services *bootstrap.ServiceContainer, _ *sql.DB) error {
		stats, err := services.Queue.Stats(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "pending\t%d\n", stats.Pending)
		fmt.Fprintf(w, "processing\t%d\n", stats.Processing)
		fmt.Fprintf(w, "completed\t%d\n", stats.Completed)
		fmt.Fprintf(w, "failed\t%d\n", stats.Failed)
		return w.Flush()
	})
}

func runResetStuck(cmdCtx *commandContext, args []string) error {
	if len(args) > 0 {
		return errors.New("reset-stuck takes no arguments")
	}
	return withServices(cmdCtx, func(ctx context.Context, services *bootstrap.ServiceContainer, _ *sql.DB) error {
		if err := services.Reaper.Tick(ctx); err != nil {
			return err
		}
		cmdCtx.Logger.Info("reaper tick complete")
		return nil
	})
}

func runBudgetSummary(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("budget-summary", flag.ContinueOnError)
	providerID := fs.String("provider", "", "provider id, e.g. openai/gpt-4o-mini")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *providerID == "" {
		return errors.New("budget-summary requires -provider")
	}

	return withServices(cmdCtx, func(ctx context.Context, services *bootstrap.ServiceContainer, _ *sql.DB) error {
		summary, err := services.Budget.Summary(ctx, *providerID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "window\tspent\tlimit\tremaining\tused\tcalls\ttokens")
		printWindow(w, "daily", summary.Daily)
		printWindow(w, "monthly", summary.Monthly)
		return w.Flush()
	})
}

func printWindow(w io.Writer, name string, win model.BudgetWindow) {
	limit := "unlimited"
	if win.Limit > 0 {
		limit = fmt.Sprintf("$%.4f", win.Limit)
	}
	fmt.Fprintf(w, "%s\t$%.4f\t%s\t$%.4f\t%.1f%%\t%d\t%d\n",
		name, win.Spent, limit, win.Remaining, win.Percent, win.APICalls, win.Tokens)
}

func runBudgetReset(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("budget-reset", flag.ContinueOnError)
	providerID := fs.String("provider", "", "provider id, e.g. openai/gpt-4o-mini")
	period := fs.String("period", "daily", "period to reset: daily or monthly")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *providerID == "" {
		return errors.New("budget-reset requires -provider")
	}

	return withServices(cmdCtx, func(ctx context.Context, services *bootstrap.ServiceContainer, _ *sql.DB) error {
		rows, err := services.Budget.ResetUsage(ctx, *providerID, model.PeriodType(*period))
		if err != nil {
			return err
		}
		cmdCtx.Logger.Info("budget usage reset", "provider", *providerID, "period", *period, "rows", rows)
		return nil
	})
}

func runCacheStats(cmdCtx *commandContext, args []string) error {
	if len(args) > 0 {
		return errors.New("cache-stats takes no arguments")
	}
	return withServices(cmdCtx, func(ctx context.Context, services *bootstrap.ServiceContainer, _ *sql.DB) error {
		stats, err := services.Cache.Stats(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "entries\t%d\n", stats.Entries)
		fmt.Fprintf(w, "pages\t%d\n", stats.Pages)
		fmt.Fprintf(w, "languages\t%d\n", stats.Languages)
		return w.Flush()
	})
}

func runCacheClear(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("cache-clear", flag.ContinueOnError)
	page := fs.String("page", "", "clear entries for one page uuid")
	language := fs.String("language", "", "clear entries for one language code")
	all := fs.Bool("all", false, "clear all cache entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	selected := 0
	for _, set := range []bool{*page != "", *language != "", *all} {
		if set {
			selected++
		}
	}
	if selected != 1 {
		return errors.New("cache-clear requires exactly one of -page, -language or -all")
	}

	return withServices(cmdCtx, func(ctx context.Context, services *bootstrap.ServiceContainer, _ *sql.DB) error {
		var (
			rows int64
			err  error
		)
		switch {
		case *page != "":
			rows, err = services.Cache.InvalidatePage(ctx, *page)
		case *language != "":
			rows, err = services.Cache.InvalidateLanguage(ctx, *language)
		default:
			rows, err = services.Cache.Clear(ctx)
		}
		if err != nil {
			return err
		}
		cmdCtx.Logger.Info("cache cleared", "rows", rows)
		return nil
	})
}
