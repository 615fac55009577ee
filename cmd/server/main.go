package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rushadaev/dj-connect-back/internal/api"
	"github.com/rushadaev/dj-connect-back/internal/bot"
	"github.com/rushadaev/dj-connect-back/internal/config"
	"github.com/rushadaev/dj-connect-back/internal/events"
	"github.com/rushadaev/dj-connect-back/internal/handler"
	"github.com/rushadaev/dj-connect-back/internal/infrastructure/kafka"
	"github.com/rushadaev/dj-connect-back/internal/infrastructure/redis"
	"github.com/rushadaev/dj-connect-back/internal/infrastructure/telegram"
	"github.com/rushadaev/dj-connect-back/internal/infrastructure/yookassa"
	"github.com/rushadaev/dj-connect-back/internal/notify"
	"github.com/rushadaev/dj-connect-back/internal/observability"
	core "github.com/rushadaev/dj-connect-back/internal/repository/postgres"
	"github.com/rushadaev/dj-connect-back/internal/scheduler"
	service "github.com/rushadaev/dj-connect-back/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	shutdown, _ := observability.Setup("dj-connect-back")
	defer shutdown(context.Background())

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	orderRepo := core.NewPostgresOrderRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	djRepo := core.NewPostgresDJRepository(db)
	trackRepo := core.NewPostgresTrackRepository(db)
	userRepo := core.NewPostgresUserRepository(db)
	payoutRepo := core.NewPostgresPayoutRepository(db)

	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	orderProducer := kafka.NewProducer(cfg.KafkaBrokers, "orders")
	defer orderProducer.Close()
	publisher := events.NewPublisher(orderProducer, redisClient)

	userBot := telegram.NewClient(cfg.UserBotToken)
	djBot := telegram.NewClient(cfg.DJBotToken)
	notifier := notify.NewTelegramNotifier(userBot, djBot)

	gateway := yookassa.NewClient(cfg.YooKassaShopID, cfg.YooKassaSecret, cfg.PaymentReturnURL)

	orderSvc := service.NewOrderService(orderRepo, transactionRepo, djRepo, trackRepo, userRepo,
		gateway, redisClient, publisher, notifier, cfg.WebAppURL, cfg.WebAppURLDJ)
	paymentSvc := service.NewPaymentService(orderRepo, transactionRepo, djRepo, userRepo, trackRepo,
		payoutRepo, gateway, redisClient, publisher, notifier, cfg.WebAppURL, cfg.WebAppURLDJ)
	authSvc := service.NewAuthService(userRepo, redisClient, cfg.JWTSecret)

	sessions := bot.NewSessionStore(redisClient)
	dialog := bot.NewDialog(orderSvc, djRepo, userRepo, sessions, userBot, djBot)

	h := handler.NewHandler(orderSvc, paymentSvc, authSvc, djRepo, dialog)
	router := api.SetupRouter(h, redisClient, cfg.JWTSecret)

	// The reconciliation sweep runs alongside the HTTP server and stops with it.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweeper := scheduler.NewSweeper(orderRepo, orderSvc, djRepo, userRepo, notifier, nil, cfg.SweepInterval)
	go sweeper.Run(sweepCtx)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
