package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hs-interfase/rebill/broker"
	"github.com/hs-interfase/rebill/clock"
	"github.com/hs-interfase/rebill/config"
	"github.com/hs-interfase/rebill/crm"
	"github.com/hs-interfase/rebill/db"
	"github.com/hs-interfase/rebill/deadletter"
	"github.com/hs-interfase/rebill/orchestrator"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
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
			"component": "worker",
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

	// notification handling reuses the single-contract sweep path, sans lock
	sweeper, err := orchestrator.NewSweeper(orchestrator.SweeperOptions{
		Orchestrator: engine,
		Logger:       logger,
		Journal:      journal,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Sweeper",
			zap.Error(err),
		)
	}

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	ctx, cancel := context.WithCancel(context.Background())

	nChan, err := amqpBroker.ReceiveChangeNotifications(ctx)
	if err != nil {
		logger.Fatal("Cannot get notification channel",
			zap.Error(err),
		)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-nChan:
				if n == nil || n.ContractID == "" {
					logger.Error("Received empty change notification")
					continue
				}
				if _, err := sweeper.Run(ctx, orchestrator.SweepOptions{
					ContractID: n.ContractID,
				}); err != nil {
					logger.Error("Contract pass failed from notification",
						zap.String("ContractID", n.ContractID),
						zap.Error(err),
					)
				}
			}
		}
	}()

	logger.Info("Worker consuming change notifications")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c
	cancel()
}
