package main

import (
	"context"
	"errors"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-lms-enrollment/internal/config"
	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment"
	"github.com/ariefcatur/go-lms-enrollment/internal/logging"
	"github.com/ariefcatur/go-lms-enrollment/internal/postgres"
	"github.com/ariefcatur/go-lms-enrollment/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	cfg.ServiceName += "-admin"

	log, err := logging.New(cfg)
	if err != nil {
		panic(err)
	}

	ctx := context.Background()

	// set up DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 2)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	sqlDB := postgres.SQLDB(db)

	rdb := redisx.New(cfg.RedisAddr)

	// start CLI
	cli := commandLine{
		db: sqlDB,
		orders: enrollment.NewOrderService(enrollment.Deps{
			Store:  &enrollment.Repo{DB: db},
			Cache:  redisx.NewCache(rdb),
			Logger: log,
		}),
		out: os.Stdout,
	}
	err = cli.run(ctx, os.Args)
	if err != nil && !errors.Is(err, errHelp) {
		log.Error("admin command failed", zap.Error(err))
	}

	_ = rdb.Close()
	_ = sqlDB.Close()
	db.Close()
	logging.Close(log)

	if err != nil {
		os.Exit(1)
	}
}
