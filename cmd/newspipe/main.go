package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pressfeed/newspipe/internal/api"
	"github.com/pressfeed/newspipe/internal/completion"
	"github.com/pressfeed/newspipe/internal/config"
	"github.com/pressfeed/newspipe/internal/kv"
	"github.com/pressfeed/newspipe/internal/llm"
	"github.com/pressfeed/newspipe/internal/lockfile"
	"github.com/pressfeed/newspipe/internal/newsapi"
	"github.com/pressfeed/newspipe/internal/pipeline"
	"github.com/pressfeed/newspipe/internal/policy"
	"github.com/pressfeed/newspipe/internal/ratelimit"
	"github.com/pressfeed/newspipe/internal/recovery"
	"github.com/pressfeed/newspipe/internal/scheduler"
	"github.com/pressfeed/newspipe/internal/store"
	"github.com/pressfeed/newspipe/internal/webhook"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for NewsPipe state data
	DefaultStateDir = "/var/lib/newspipe"
)

func main() {
	initializeLogger()

	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
	cfg := config.Load()
	flags := parseCommandLineFlags(&cfg)

	if err := run(cfg, flags); err != nil {
		slog.Error("NewsPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("NewsPipe exited successfully")
}

// Flags holds command line flag values
type Flags struct {
	stateDir *string
	debug    *bool
}

// initializeLogger sets up structured logging
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
}

// parseCommandLineFlags overlays flag values on the loaded configuration.
func parseCommandLineFlags(cfg *config.Config) Flags {
	flags := Flags{
		stateDir: flag.String("state-dir", DefaultStateDir, "directory for lock and state files"),
		debug:    flag.Bool("debug", false, "enable debug logging"),
	}
	dsn := flag.String("db-dsn", cfg.Database.DSN, "database DSN (SQLite path or postgres:// URL, empty for in-memory)")
	redisAddr := flag.String("redis-addr", cfg.Redis.Addr, "Redis address (empty for in-process state)")
	apiAddr := flag.String("api-addr", cfg.API.Addr, "operator API listen address")
	cronExpr := flag.String("schedule", cfg.Scheduler.CronExpression, "pipeline cron schedule")
	flag.Parse()

	cfg.Database.DSN = *dsn
	cfg.Redis.Addr = *redisAddr
	cfg.API.Addr = *apiAddr
	cfg.Scheduler.CronExpression = *cronExpr

	if *flags.debug {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}
	return flags
}

func run(cfg config.Config, flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	kvs := buildKV(cfg)

	gate := ratelimit.NewGate(kvs, ratelimit.Limits{
		RequestsPerMinute:   cfg.Rate.RequestsPerMinute,
		TokensPerMinute:     cfg.Rate.TokensPerMinute,
		RequestsPerDay:      cfg.Rate.RequestsPerDay,
		MaxTokensPerRequest: cfg.Rate.MaxTokensPerRequest,
	})

	client, err := llm.NewClient(cfg.OpenAI.APIKey, llm.WithModel(cfg.OpenAI.Model))
	if err != nil {
		return err
	}

	engine := completion.NewEngine(st, kvs, gate, client, nil)
	ctrl := pipeline.NewController(
		st, kvs, gate,
		policy.New(kvs, gate),
		client, engine,
		newsapi.NewClient(cfg.NewsAPI.Endpoint, cfg.NewsAPI.APIKey),
		webhook.NewClient(),
		pipeline.Config{
			SimilarityThreshold: cfg.Pipeline.SimilarityThreshold,
			Lookback:            cfg.Pipeline.Lookback(),
			MaxRunTime:          cfg.Pipeline.MaxRunTime(),
			MemoryLimit:         uint64(cfg.Pipeline.MemoryLimitMB) * 1024 * 1024,
		},
	)

	if err := seedStore(st, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := recovery.Run(ctx, st, kvs, pipeline.StageOrder); err != nil {
		return err
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.SchedulePipeline(ctx, ctrl, cfg.Scheduler.CronExpression); err != nil {
		return err
	}
	slog.Info("Pipeline scheduled", "schedule", cfg.Scheduler.CronExpression)

	// One pass right away so a fresh deployment does not wait for the
	// first cron firing.
	go scheduler.RunOnce(ctx, ctrl)

	srv := api.NewServer(ctrl, gate, st, api.WithAddr(cfg.API.Addr))
	return srv.Run(ctx)
}

// buildStore selects the storage backend from the DSN.
func buildStore(cfg config.Config) (store.Store, error) {
	dsn := cfg.Database.DSN
	if dsn == "" {
		slog.Warn("No database DSN configured, state will not survive restarts")
		return store.NewMemoryStore(), nil
	}
	switch store.DetectDSNType(dsn) {
	case "postgres":
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	default:
		slog.Info("Using SQLite store", "path", dsn)
		return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	}
}

// buildKV selects the shared key-value backend.
func buildKV(cfg config.Config) kv.Store {
	if cfg.Redis.Addr == "" {
		slog.Info("Using in-process key-value store")
		return kv.NewMemoryStore()
	}
	slog.Info("Using Redis key-value store", "addr", cfg.Redis.Addr)
	return kv.NewRedisStore(cfg.Redis.Addr)
}

// seedStore upserts the configured sync settings and subscriber sites so
// the pipeline has sources and destinations on first boot.
func seedStore(st store.Store, cfg config.Config) error {
	for _, s := range cfg.StoreSettings() {
		setting := s
		if err := st.UpsertSetting(&setting); err != nil {
			return err
		}
		slog.Debug("Seeded sync setting", "name", setting.Name, "enabled", setting.Enabled)
	}
	for _, s := range cfg.StoreSites() {
		site := s
		if err := st.UpsertSite(&site); err != nil {
			return err
		}
		slog.Debug("Seeded remote site", "name", site.Name, "enabled", site.Enabled)
	}
	return nil
}
