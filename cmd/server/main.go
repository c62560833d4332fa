package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"gridbot/internal/api"
	"gridbot/internal/bot"
	"gridbot/internal/config"
	"gridbot/internal/exchange"
	"gridbot/internal/feed"
	"gridbot/internal/repository"
	"gridbot/internal/websocket"
	"gridbot/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// .env необязателен: в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("database connection failed",
			zap.String("dsn", cfg.Database.DSNWithoutPassword()),
			zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to database")

	// Репозитории
	taskRepo := repository.NewTaskRepository(db, logger)
	orderRepo := repository.NewOrderRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// WebSocket hub для live-обновлений дашборда
	hub := websocket.NewHub(logger)
	go hub.Run()

	// Биржа и источник котировок
	var executor exchange.Executor
	var source feed.Source

	feedManager := feed.NewManager(nil, logger)

	if cfg.Bot.DryRun {
		paper := exchange.NewPaperExchange(cfg.Bot.ExchangeRate, int(cfg.Bot.ExchangeBurst))
		poll := feed.NewPollSource(paper, cfg.Bot.TickInterval, feedManager, logger)
		poll.Start()
		executor = paper
		source = poll
		logger.Warn("dry-run mode: orders go to the paper exchange")
	} else {
		executor = exchange.NewRESTExecutor(
			cfg.Bot.ExchangeBaseURL,
			cfg.Bot.APIKey,
			cfg.Bot.SecretKey,
			cfg.Bot.ExchangeRate,
			int(cfg.Bot.ExchangeBurst),
			logger,
		)

		wsCfg := feed.DefaultWSSourceConfig()
		wsCfg.InitialDelay = cfg.Bot.WSReconnectDelay
		wsCfg.PingInterval = cfg.Bot.WSPingInterval
		wsCfg.WriteTimeout = cfg.Bot.WSReadTimeout

		ws := feed.NewWSSource(cfg.Bot.ExchangeWSURL, wsCfg, feedManager, logger)
		if err := ws.Connect(); err != nil {
			// Источник сам переподключится; котировки придут позже
			logger.Warn("initial feed connect failed", zap.Error(err))
		}
		source = ws
	}
	feedManager.SetSource(source)
	defer source.Close()

	// Торговое ядро
	pending := bot.NewPendingOrders()

	engine := bot.NewEngine(
		executor,
		feedManager,
		orderRepo,
		notificationRepo,
		cfg.Bot.OrderTimeout,
		cfg.Bot.PlacementRetry,
		cfg.Bot.IdleMultiplier,
		logger,
	)

	scheduler := bot.NewScheduler(
		engine,
		taskRepo,
		feedManager,
		pending,
		notificationRepo,
		hub,
		cfg.Bot.TickInterval,
		cfg.Bot.MaxIdleMultiplier,
		logger,
	)

	reconciler := bot.NewReconciler(
		executor,
		feedManager,
		pending,
		orderRepo,
		notificationRepo,
		hub,
		cfg.Bot.ReconcileInterval,
		cfg.Bot.OrderTimeout,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Незакрытые ордера прошлого запуска возвращаются под наблюдение
	if open, err := orderRepo.ListOpen(ctx); err != nil {
		logger.Error("open orders restore failed", zap.Error(err))
	} else if len(open) > 0 {
		pending.Append(open...)
		logger.Info("open orders restored", zap.Int("count", len(open)))
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}
	reconciler.Start(ctx)

	// HTTP сервер
	deps := &api.Dependencies{
		Tasks:         scheduler,
		TaskCreator:   taskRepo,
		Orders:        orderRepo,
		Notifications: notificationRepo,
		Hub:           hub,
		Logger:        logger,
		APITokenHash:  cfg.Security.APITokenHash,
	}
	router := api.SetupRoutes(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		var serveErr error
		if cfg.Server.UseHTTPS {
			serveErr = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(serveErr))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Сначала останавливаем торговлю, потом HTTP
	scheduler.Stop()
	reconciler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// initDatabase открывает подключение и настраивает пул соединений
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
