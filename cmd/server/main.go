package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/calyxhq/expenseflow/internal/approval"
	"github.com/calyxhq/expenseflow/internal/config"
	"github.com/calyxhq/expenseflow/internal/currency"
	"github.com/calyxhq/expenseflow/internal/export"
	"github.com/calyxhq/expenseflow/internal/httpapi"
	"github.com/calyxhq/expenseflow/internal/notify"
	"github.com/calyxhq/expenseflow/internal/receipt"
	"github.com/calyxhq/expenseflow/internal/repository"
	"github.com/calyxhq/expenseflow/internal/service"
	"github.com/calyxhq/expenseflow/internal/storage"
	"github.com/calyxhq/expenseflow/pkg/database"
	"github.com/calyxhq/expenseflow/pkg/utils"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting expense approval service",
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	expenseRepo := repository.NewExpenseRepository(db.DB, logger)
	ruleRepo := repository.NewRuleRepository(db.DB, logger)
	userRepo := repository.NewUserRepository(db.DB, logger)
	companyRepo := repository.NewCompanyRepository(db.DB, logger)
	historyRepo := repository.NewHistoryRepository(db.DB, logger)

	// Approval engine
	builder := approval.NewSequenceBuilder(ruleRepo, userRepo, logger)
	evaluator := approval.NewEvaluator(ruleRepo, userRepo, logger)

	converter := currency.NewConverter(cfg.Currency.Rates, logger)

	// Notifications go through Lark when credentials are configured,
	// otherwise they only land in the log.
	var notifier notify.Notifier
	if cfg.Lark.AppID != "" && cfg.Lark.AppSecret != "" {
		notifier = notify.NewLarkNotifier(notify.LarkConfig{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
		}, logger)
	} else {
		logger.Warn("Lark credentials not configured, notifications are log-only")
		notifier = notify.NewLogNotifier(logger)
	}
	dispatcher := notify.NewDispatcher(notifier, cfg.Notify.QueueSize, logger)
	dispatcher.Start()
	defer dispatcher.Stop()

	// Services
	expenseService := service.NewExpenseService(
		db, expenseRepo, userRepo, companyRepo, historyRepo,
		builder, evaluator, converter, dispatcher, logger,
	)
	ruleService := service.NewRuleService(db, ruleRepo, logger)

	receiptStore, err := storage.NewReceiptStore(cfg.Receipts.Dir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize receipt storage", zap.Error(err))
	}

	var extractor httpapi.ReceiptExtractor
	if cfg.OpenAI.APIKey != "" {
		extractor = receipt.NewExtractor(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger)
	} else {
		logger.Warn("OpenAI key not configured, receipt extraction disabled")
	}

	handlers := httpapi.NewHandlers(
		expenseService,
		ruleService,
		userRepo,
		companyRepo,
		receiptStore,
		extractor,
		export.NewExcelWriter(logger),
		logger,
	)

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handlers, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited")
}
