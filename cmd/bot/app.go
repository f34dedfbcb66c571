package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/comitanigiacomo/walme-bot/internal/adapters/api"
	"github.com/comitanigiacomo/walme-bot/internal/adapters/cache"
	"github.com/comitanigiacomo/walme-bot/internal/adapters/credentials"
	adapterHTTP "github.com/comitanigiacomo/walme-bot/internal/adapters/handler/http"
	"github.com/comitanigiacomo/walme-bot/internal/adapters/repository"
	"github.com/comitanigiacomo/walme-bot/internal/config"
	"github.com/comitanigiacomo/walme-bot/internal/core/delay"
	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
	"github.com/comitanigiacomo/walme-bot/internal/core/services"
	"github.com/comitanigiacomo/walme-bot/internal/core/workers"
	"github.com/comitanigiacomo/walme-bot/internal/logging"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type app struct {
	env       config.Env
	cfg       *config.Manager
	logger    zerolog.Logger
	logSink   *logging.Sink
	client    *api.Client
	loader    *credentials.Loader
	proxies   string
	runner    *services.BatchRunner
	stats     *services.StatsService
	scheduler *workers.Scheduler
	redis     *redis.Client
	startTime time.Time

	closers []io.Closer
}

func newApp(ctx context.Context, opts *options, stdout io.Writer) (*app, error) {
	a := &app{startTime: time.Now()}
	a.env = config.LoadEnv()

	cfg, cfgErr := config.Load(opts.configPath)
	a.cfg = cfg
	settings := cfg.Current()

	logger, sink := logging.New(logging.Options{
		Level:    settings.LogLevel,
		ToFile:   settings.LogToFile,
		FilePath: settings.LogFile,
		Console:  stdout,
	})
	a.logger = logger
	a.logSink = sink
	a.closers = append(a.closers, sink)

	if cfgErr != nil {
		logger.Error().Err(cfgErr).Msg("Error loading config, using defaults")
	} else if cfg.Created() {
		logger.Info().Str("path", cfg.Path()).Msg("Created default config file")
	}

	loader := credentials.NewLoader(logging.Component(logger, "credentials"))
	a.loader = loader
	a.proxies = opts.proxiesPath
	creds, err := loader.LoadTokens(opts.tokensPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	proxies := loader.LoadProxies(opts.proxiesPath, settings.UseProxies)
	logger.Info().Int("accounts", len(creds)).Int("proxies", len(proxies)).Msg("Credentials loaded")

	repo, err := a.openStateRepository(ctx, settings, opts.statePath)
	if err != nil {
		a.Close()
		return nil, err
	}

	client := api.NewClient(a.env.APIURL, settings.RetryAttempts, logging.Component(logger, "api"))
	a.client = client
	processor := services.NewAccountProcessor(client, delay.NewProvider(), logging.Component(logger, "account"))

	a.stats = services.NewStatsService()
	a.runner = services.NewBatchRunner(services.BatchRunnerDeps{
		Accounts:    processor,
		Repo:        repo,
		StatsWriter: repository.NewFileStatsWriter(opts.statsPath),
		Stats:       a.stats,
		Settings:    cfg,
		Logger:      logging.Component(logger, "runner"),
		Credentials: creds,
		Proxies:     proxies,
	})

	a.scheduler = workers.NewScheduler(
		a.runner,
		func() time.Duration { return a.cfg.Current().RunInterval() },
		logging.Component(logger, "scheduler"),
		workers.WithProgress(stdout),
	)

	cfg.OnChange(a.applySettings)

	return a, nil
}

// applySettings pushes a reloaded config into the running components. The
// proxy file is read the first time proxies get enabled; the state backend,
// log file and status address still need a restart.
func (a *app) applySettings(s config.Settings) {
	a.client.SetMaxAttempts(s.RetryAttempts)
	a.logSink.SetLevel(s.LogLevel)

	if s.UseProxies && len(a.runner.Proxies()) == 0 {
		a.runner.SetProxies(a.loader.LoadProxies(a.proxies, true))
	}

	a.logger.Info().
		Int("max_concurrency", s.MaxConcurrency).
		Int("retry_attempts", s.RetryAttempts).
		Bool("use_proxies", s.UseProxies).
		Str("log_level", s.LogLevel).
		Float64("run_interval_hours", s.RunIntervalHours).
		Msg("Config reloaded")
}

// openStateRepository picks the configured backend and puts the Redis cache in
// front of it when Redis is configured.
func (a *app) openStateRepository(ctx context.Context, settings config.Settings, statePath string) (domain.StateRepository, error) {
	log := logging.Component(a.logger, "repository")

	var repo domain.StateRepository
	switch settings.StateBackend {
	case config.StateBackendPostgres:
		db, err := sqlx.Connect("pgx", a.env.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		a.closers = append(a.closers, db)

		pg := repository.NewPostgresStateRepository(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		log.Info().Str("host", a.env.DBHost).Msg("Using Postgres state store")
		repo = pg
	default:
		log.Info().Str("path", statePath).Msg("Using file state store")
		repo = repository.NewFileStateRepository(statePath, log)
	}

	if !a.env.RedisEnabled() {
		return repo, nil
	}

	rdb, err := cache.NewRedisClient(ctx, cache.Options{
		Host:     a.env.RedisHost,
		Port:     a.env.RedisPort,
		Password: a.env.RedisPassword,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, running without cache")
		return repo, nil
	}
	a.redis = rdb
	a.closers = append(a.closers, rdb)

	return repository.NewCachedStateRepository(repo, rdb, log), nil
}

func (a *app) Run(ctx context.Context, once bool) error {
	a.runner.Load(ctx)

	if once {
		if err := a.scheduler.RunOnce(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	a.cfg.Watch(func(err error) {
		a.logger.Error().Err(err).Msg("Config reload failed, keeping previous settings")
	})

	if addr := a.cfg.Current().StatusAddr; addr != "" {
		srv := a.startStatusServer(addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error().Err(err).Msg("Status server forced shutdown")
			}
		}()
	}

	err := a.scheduler.Run(ctx)
	a.logger.Info().Msg("Bot stopped by user")
	return err
}

func (a *app) startStatusServer(addr string) *http.Server {
	handler := adapterHTTP.NewStatusHandler(a.stats, a.scheduler, a.startTime)
	router := adapterHTTP.NewRouter(adapterHTTP.RouterDependencies{
		StatusHandler: handler,
		Redis:         a.redis,
		StatusToken:   a.env.StatusToken,
		Logger:        logging.Component(a.logger, "status"),
	})

	srv := adapterHTTP.NewServer(addr, router)
	go func() {
		a.logger.Info().Str("addr", addr).Msg("Status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("Status server failed")
		}
	}()
	return srv
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

// loadStats backs the stats subcommand: it reads the store and projects it once.
func loadStats(ctx context.Context, opts *options, logOut io.Writer) (*domain.RunStats, error) {
	a := &app{env: config.LoadEnv()}
	defer a.Close()

	cfg, cfgErr := config.Load(opts.configPath)
	settings := cfg.Current()

	a.logger, _ = logging.New(logging.Options{Level: "ERROR", Console: logOut})
	if cfgErr != nil {
		a.logger.Error().Err(cfgErr).Msg("Error loading config, using defaults")
	}

	repo, err := a.openStateRepository(ctx, settings, opts.statePath)
	if err != nil {
		return nil, err
	}

	ledger, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	return services.NewStatsService().Generate(ledger, "", time.Now()), nil
}
