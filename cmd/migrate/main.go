package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/payments-relay/pkg/config"
	"github.com/angelmondragon/payments-relay/pkg/db"
	"github.com/angelmondragon/payments-relay/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|status")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"cmd":    *cmd,
		"driver": cfg.DB.Driver,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	switch *cmd {
	case "up":
		requireResource(ctx, logg, "auto migrate", dbClient.AutoMigrate(ctx))
		logg.Info(ctx, "relay tables are up to date")
	case "status":
		migrator := dbClient.DB().WithContext(ctx).Migrator()
		missing := 0
		for _, model := range db.Models() {
			present := migrator.HasTable(model)
			if !present {
				missing++
			}
			fmt.Printf("%-40T present=%t\n", model, present)
		}
		if missing > 0 {
			os.Exit(2)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown -cmd %q (want up or status)\n", *cmd)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to initialize "+name, err)
	os.Exit(1)
}
