package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-lms-enrollment/internal/config"
	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment"
	kafkax "github.com/ariefcatur/go-lms-enrollment/internal/kafka"
	"github.com/ariefcatur/go-lms-enrollment/internal/logging"
	"github.com/ariefcatur/go-lms-enrollment/internal/notify"
	"github.com/ariefcatur/go-lms-enrollment/internal/postgres"
	"github.com/ariefcatur/go-lms-enrollment/internal/redisx"
	"github.com/ariefcatur/go-lms-enrollment/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	cfg.ServiceName += "-notifier"

	log, err := logging.New(cfg)
	if err != nil {
		panic(err)
	}
	defer logging.Close(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownOtel, err := telemetry.Init(ctx, cfg)
	if err != nil {
		log.Fatal("telemetry init", zap.Error(err))
	}
	defer func() { _ = shutdownOtel(context.Background()) }()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	var mailer notify.Mailer
	if cfg.SendgridKey != "" {
		mailer = notify.NewSendgridMailer(cfg.SendgridKey, cfg.AppName, cfg.MailFrom)
	} else {
		log.Warn("SENDGRID_API_KEY not set, mail is logged only")
		mailer = notify.NewConsoleMailer(log)
	}

	svc := &notify.Service{
		Contacts: &notify.ContactRepo{DB: db},
		Dedup:    redisx.NewDeduper(rdb, cfg.ServiceName),
		Mailer:   mailer,
		Log:      log,
	}

	topics := []string{enrollment.TopicEnrollmentCompleted, enrollment.TopicPaymentFailed}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, topics, cfg.NotifierWorkers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("notifier consumer started",
			zap.String("group", cfg.NotifierGroup),
			zap.Strings("topics", topics),
			zap.Int("workers", cfg.NotifierWorkers),
		)
		if err := cons.Start(ctx, svc.HandleMessage); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done
}
