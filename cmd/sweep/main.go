package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hs-interfase/rebill/clock"
	"github.com/hs-interfase/rebill/config"
	"github.com/hs-interfase/rebill/crm"
	"github.com/hs-interfase/rebill/db"
	"github.com/hs-interfase/rebill/deadletter"
	"github.com/hs-interfase/rebill/locker"
	"github.com/hs-interfase/rebill/orchestrator"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var (
		contractID = flag.String("contract", "", "process a single contract instead of sweeping")
		dryRun     = flag.Bool("dry-run", false, "compute everything but write nothing")
		once       = flag.Bool("once", false, "process only the first eligible contract")
		maxRuntime = flag.Duration("max-runtime", 50*time.Minute, "wall-clock deadline for the sweep")
	)
	flag.Parse()

	var logger *zap.Logger
	var dotFile string
	var err error

	env := os.Getenv("BILLING_ENV")
	if "production" == env {
		dotFile = ".env.production"
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: env,
		Debug:       env != "production",
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "sweep",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot initialize zapsentry",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	engineCfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("Cannot build configuration",
			zap.Error(err),
		)
	}

	businessClock, err := clock.New(engineCfg.Timezone)
	if err != nil {
		logger.Fatal("Cannot initialize business clock",
			zap.Error(err),
		)
	}

	storeClient, err := crm.NewHTTPClient(crm.HTTPClientOptions{
		BaseURL: os.Getenv("STORE_BASE_URL"),
		Token:   os.Getenv("STORE_TOKEN"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize store client",
			zap.Error(err),
		)
	}

	gormDB, err := db.New(logger, os.Getenv("POSTGRES_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	journal, err := deadletter.NewManager(logger, gormDB)
	if err != nil {
		logger.Fatal("Cannot initialize deadletter.Manager",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	sweepLock, err := locker.New(locker.Options{
		Redis:  rdb,
		Logger: logger,
		TTL:    engineCfg.LockTTL,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Locker",
			zap.Error(err),
		)
	}

	engine, err := orchestrator.New(orchestrator.Options{
		Client: storeClient,
		Config: engineCfg,
		Clock:  businessClock,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Orchestrator",
			zap.Error(err),
		)
	}

	sweeper, err := orchestrator.NewSweeper(orchestrator.SweeperOptions{
		Orchestrator: engine,
		Logger:       logger,
		Locker:       sweepLock,
		Journal:      journal,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Sweeper",
			zap.Error(err),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		logger.Info("Received signal, finishing current contract then stopping")
		cancel()
	}()

	summary, err := sweeper.Run(ctx, orchestrator.SweepOptions{
		ContractID: *contractID,
		DryRun:     *dryRun,
		Once:       *once,
		MaxRuntime: *maxRuntime,
	})
	if err != nil {
		logger.Fatal("Sweep aborted",
			zap.Error(err),
		)
	}
	logger.Info("Done",
		zap.String("RunID", summary.RunID),
		zap.Int("Processed", summary.Processed),
		zap.Int("Failed", summary.Failed),
	)
}
