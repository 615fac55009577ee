package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string

	UserBotToken string
	DJBotToken   string

	YooKassaShopID string
	YooKassaSecret string
	PaymentReturnURL string

	WebAppURL   string
	WebAppURLDJ string

	SweepInterval   time.Duration
	DefaultTimezone string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		Port:             os.Getenv("PORT"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		KafkaBrokers:     []string{os.Getenv("KAFKA_BROKER")},
		JWTSecret:        os.Getenv("JWT_SECRET"),
		UserBotToken:     os.Getenv("TELEGRAM_USER_BOT_TOKEN"),
		DJBotToken:       os.Getenv("TELEGRAM_DJ_BOT_TOKEN"),
		YooKassaShopID:   os.Getenv("YOOKASSA_SHOP_ID"),
		YooKassaSecret:   os.Getenv("YOOKASSA_SECRET_KEY"),
		PaymentReturnURL: os.Getenv("PAYMENT_RETURN_URL"),
		WebAppURL:        os.Getenv("WEBAPP_URL"),
		WebAppURLDJ:      os.Getenv("WEBAPP_URL_DJ"),
		DefaultTimezone:  os.Getenv("DEFAULT_TIMEZONE"),
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=djconnect sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}
	if cfg.PaymentReturnURL == "" {
		cfg.PaymentReturnURL = "http://localhost:8080/payments/return"
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "Europe/Moscow"
	}

	cfg.SweepInterval = 15 * time.Second
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			cfg.SweepInterval = parsed
		} else {
			slog.Warn("invalid SWEEP_INTERVAL, using default", "value", raw)
		}
	}

	slog.Info("config loaded", "port", cfg.Port, "redis_addr", cfg.RedisAddr, "kafka_brokers", cfg.KafkaBrokers, "sweep_interval", cfg.SweepInterval)
	return cfg
}
