package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/inspoaibox/Ecommerce-sync-sub008/config"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/autosync"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/control"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/database"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/gateway"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/handlers"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/pipeline"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/ratelimit"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/repos"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/scheduler"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/syncer"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/task"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/workers"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting sync service")

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Connect(ctx, dbURL, database.Options{
		MaxConns:    cfg.Database.MaxConnections,
		MinConns:    cfg.Database.MinConnections,
		MaxLifetime: cfg.Database.MaxConnLifetime,
		MaxIdleTime: cfg.Database.MaxConnIdleTime,
	}); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()
	logger.Info().Msg("Database connected")

	pool := database.Pool()
	store := task.NewPGStore(pool)
	signals := buildSignals(cfg.Redis, logger)
	registry := buildRegistry(cfg)
	limiter := buildLimiter(cfg.RateLimit)

	products := repos.NewProductRepo(pool)
	shops := repos.NewShopRepo(pool)
	channels := repos.NewChannelRepo(pool)
	ruleRepo := repos.NewRuleRepo(pool)
	runLogs := repos.NewRunLogRepo(pool)
	audits := repos.NewPushAuditRepo(pool)

	batchRunner := &syncer.Runner{
		Tasks:        store,
		Signals:      signals,
		Products:     products,
		Limiter:      limiter,
		PollInterval: cfg.Scheduler.SignalPollInterval,
		Logger:       logger.With().Str("component", "syncer").Logger(),
	}
	orchestrator := &autosync.Orchestrator{
		Tasks:    store,
		Signals:  signals,
		Shops:    shops,
		Channels: channels,
		Products: products,
		Rules:    ruleRepo,
		Audits:   audits,
		Gateways: registry,
		Limiter:  limiter,
		Logger:   logger.With().Str("component", "autosync").Logger(),
	}
	pipe := &pipeline.Pipeline{
		Tasks:    store,
		Rules:    ruleRepo,
		RunLogs:  runLogs,
		Products: products,
		Gateways: registry,
		Limiter:  limiter,
		Logger:   logger.With().Str("component", "pipeline").Logger(),
	}

	hostname, _ := os.Hostname()
	worker := workers.New(store, signals, workers.Config{
		WorkerID:   hostname,
		NumWorkers: cfg.Worker.NumWorkers,
		PollDelay:  cfg.Worker.PollDelay,
	}, *logger)
	worker.RegisterHandler(task.KindBatchSync, func(ctx context.Context, t *task.Task) error {
		ch, err := resolveTaskChannel(ctx, ruleRepo, registry, t)
		if err != nil {
			return err
		}
		return batchRunner.Run(ctx, t, ch)
	})
	worker.RegisterHandler(task.KindAutoSync, orchestrator.Run)
	worker.RegisterHandler(task.KindPipelineSync, pipe.Run)

	sched := scheduler.New(store, ruleRepo, shops,
		cfg.Scheduler.Interval, cfg.Scheduler.StaleTaskAge, *logger)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	setupRequestLogging(router, logger)

	api := &handlers.API{Tasks: store, Signals: signals}
	api.Register(router, cfg.Server.InternalAPIKey, cfg.Server.RatePerSecond, cfg.Server.RateBurst)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		worker.Start(gctx)
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		worker.Stop()
		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Service exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("Server exited")
}

// resolveTaskChannel picks the channel gateway for a batch sync task: the
// task's rule names the source type; tasks without a rule work only in
// single-channel deployments.
func resolveTaskChannel(ctx context.Context, rules *repos.RuleRepo, registry *gateway.Registry, t *task.Task) (gateway.ChannelGateway, error) {
	if t.RuleID != nil {
		rule, err := rules.Get(ctx, *t.RuleID)
		if err != nil {
			return nil, err
		}
		return registry.Channel(rule.SourceType)
	}
	types := registry.ChannelTypes()
	if len(types) == 1 {
		return registry.Channel(types[0])
	}
	return nil, fmt.Errorf("batch sync task %s has no resolvable channel", t.ID)
}

func buildSignals(cfg config.RedisConfig, logger *zerolog.Logger) control.Channel {
	if !cfg.Enabled {
		logger.Info().Msg("Control signals in process memory")
		return control.NewMemory()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	signals, err := control.NewRedis(rdb, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create redis signal channel")
	}
	logger.Info().Str("addr", cfg.Addr).Msg("Control signals via redis")
	return signals
}

func buildRegistry(cfg *config.Config) *gateway.Registry {
	client := gateway.NewHTTPClient(ratelimit.RetryConfig{
		MaxRetries:       cfg.RateLimit.MaxRetries,
		InitialBackoffMs: cfg.RateLimit.InitialBackoffMs,
		MaxBackoffMs:     cfg.RateLimit.MaxBackoffMs,
	})

	registry := gateway.NewRegistry()
	for _, ep := range cfg.Gateways.Channels {
		registry.RegisterChannel(gateway.NewRESTChannel(gateway.RESTConfig{
			Type:    ep.Type,
			BaseURL: ep.BaseURL,
			APIKey:  ep.APIKey,
		}, client))
	}
	for _, ep := range cfg.Gateways.Platforms {
		registry.RegisterPlatform(gateway.NewRESTPlatform(gateway.RESTConfig{
			Type:    ep.Type,
			BaseURL: ep.BaseURL,
			APIKey:  ep.APIKey,
		}, client))
	}
	return registry
}

func buildLimiter(cfg config.RateLimitConfig) *ratelimit.Limiter {
	policies := make(map[string]ratelimit.Policy, len(cfg.Sources))
	for sourceType, p := range cfg.Sources {
		policies[sourceType] = ratelimit.Policy{
			BatchSize:  p.BatchSize,
			BatchDelay: p.BatchDelay,
		}
	}
	return ratelimit.New(policies, ratelimit.Policy{
		BatchSize:  cfg.Default.BatchSize,
		BatchDelay: cfg.Default.BatchDelay,
	})
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "sync-service").Logger()
	return &logger
}

func setupRequestLogging(router *gin.Engine, logger *zerolog.Logger) {
	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	})
}
