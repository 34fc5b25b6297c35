package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/mangaforge/internal/api"
	"github.com/digkill/mangaforge/internal/config"
	"github.com/digkill/mangaforge/internal/database"
	"github.com/digkill/mangaforge/internal/genai"
	"github.com/digkill/mangaforge/internal/ledger"
	"github.com/digkill/mangaforge/internal/observability"
	"github.com/digkill/mangaforge/internal/persistence"
	"github.com/digkill/mangaforge/internal/project"
	"github.com/digkill/mangaforge/internal/repository"
	"github.com/digkill/mangaforge/internal/service"
	"github.com/digkill/mangaforge/internal/storage"
	"github.com/digkill/mangaforge/internal/telegram"
	"github.com/digkill/mangaforge/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// MySQL being down is not fatal: the gateway falls back to the local store per call.
	var (
		mysqlDB       *sql.DB
		mysqlMigrated bool
	)
	if cfg.MySQLDSN != "" {
		mysqlDB, err = database.Open(cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("database open: %v", err)
		}
		defer mysqlDB.Close()
		migrateCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := database.Migrate(migrateCtx, mysqlDB); err != nil {
			logr.Warn("mysql unavailable, using local store until it answers", "error", err)
		} else {
			mysqlMigrated = true
		}
		cancel()
	}

	var remote persistence.RecordStore
	switch cfg.RemoteStore {
	case config.RemoteStoreMySQL:
		remote = repository.NewAccountRepository(mysqlDB)
	case config.RemoteStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis url: %v", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		remote = repository.NewRedisAccountRepository(client)
	}

	localDB, err := database.OpenLocal(ctx, cfg.LocalStorePath)
	if err != nil {
		log.Fatalf("local store: %v", err)
	}
	defer localDB.Close()
	local := repository.NewLocalAccountRepository(localDB)

	catalog := ledger.DefaultCatalog()
	gateway := persistence.NewGateway(remote, local, catalog, cfg.AccountID, logr, metrics)

	accounts := service.NewAccountService(catalog, gateway, logr, metrics)
	loaded, err := accounts.Load(ctx)
	if err != nil {
		log.Fatalf("load account: %v", err)
	}
	logr.Info("account loaded", "account_id", cfg.AccountID, "plan", loaded.Plan.Code, "diamonds", loaded.Diamonds.String(), "remote_store", cfg.RemoteStore)

	saver := persistence.NewAutoSaver(gateway, logr)
	accounts.OnChange(saver.Notify)

	var uploader service.AssetUploader
	if cfg.S3Enabled() {
		u, err := storage.NewUploader(storage.ConfigFrom(cfg))
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		uploader = u
	}

	var (
		history  service.GenerationLog
		payments service.PaymentRecorder
	)
	if mysqlDB != nil {
		history = repository.NewGenerationRepository(mysqlDB)
		payments = repository.NewPaymentRepository(mysqlDB)
	}

	provider := genai.NewClient(cfg, logr)
	planService := service.NewPlanService(catalog)
	paymentService := service.NewPaymentService(cfg, planService, accounts, payments, logr)
	generationService := service.NewGenerationService(cfg.AccountID, logr, accounts, project.NewSession(), provider, uploader, history, metrics)
	batchService := service.NewBatchService(generationService, logr, cfg.BatchStopOnExhaustion)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return saver.Run(gctx)
	})

	if mysqlDB != nil && !mysqlMigrated {
		g.Go(func() error {
			return database.MigrateWhenReady(gctx, mysqlDB, 30*time.Second, logr)
		})
	}

	apiServer := api.NewServer(cfg.APIListenAddr, cfg.APIUsername, cfg.APIPassword, logr, api.Services{
		Accounts:    accounts,
		Plans:       planService,
		Payments:    paymentService,
		Generations: generationService,
		Batch:       batchService,
	}, metrics)
	g.Go(func() error {
		return apiServer.Run(gctx)
	})

	if cfg.BotToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			log.Fatalf("telegram bot: %v", err)
		}
		bot := telegram.NewBot(botAPI, cfg.TelegramOwnerID, logr, accounts, planService, paymentService, generationService, batchService)
		g.Go(func() error {
			if err := bot.Run(gctx, botAPI); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logr.Info("TELEGRAM_BOT_TOKEN not set, chat front end disabled")
	}

	if err := g.Wait(); err != nil {
		logr.Error("service stopped", "err", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	saver.Flush(flushCtx)
	logr.Info("shutdown complete", slog.String("account_id", cfg.AccountID))
}
