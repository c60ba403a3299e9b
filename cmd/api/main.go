package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-lms-enrollment/internal/config"
	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment"
	"github.com/ariefcatur/go-lms-enrollment/internal/gateway"
	"github.com/ariefcatur/go-lms-enrollment/internal/httpx"
	kafkax "github.com/ariefcatur/go-lms-enrollment/internal/kafka"
	"github.com/ariefcatur/go-lms-enrollment/internal/logging"
	"github.com/ariefcatur/go-lms-enrollment/internal/postgres"
	"github.com/ariefcatur/go-lms-enrollment/internal/redisx"
	"github.com/ariefcatur/go-lms-enrollment/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logging.New(cfg)
	if err != nil {
		panic(err)
	}
	defer logging.Close(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownOtel, err := telemetry.Init(ctx, cfg)
	if err != nil {
		log.Fatal("telemetry init", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 20)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	sqlDB := postgres.SQLDB(db)
	if err := postgres.Migrate(ctx, sqlDB); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	_ = sqlDB.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	deps := enrollment.Deps{
		Store:         &enrollment.Repo{DB: db},
		Gateway:       gateway.New(cfg.Gateway, log),
		Cache:         redisx.NewCache(rdb),
		Publisher:     kafkax.EnvelopePublisher{P: prod},
		Logger:        log,
		Currency:      cfg.Gateway.Currency,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		Producer:      cfg.ServiceName,
	}

	router := httpx.NewRouter(log)
	eh := &httpx.EnrollmentHandler{
		Orders:  enrollment.NewOrderService(deps),
		Webhook: enrollment.NewWebhookHandler(deps),
		Auth:    httpx.NewAuthenticator(cfg.JWTSecret, log),
		Log:     log,
	}
	eh.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		// requests still running may publish after this point; Publish then reports ErrProducerClosed
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	prod.Close()      // close inbox, flush and close the writer
	cancel()          // stop the producer loop
	prod.WaitClosed() // drain
	if err := shutdownOtel(ctx2); err != nil {
		log.Warn("telemetry shutdown", zap.Error(err))
	}
}
