package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/campusnet/forum/internal/common/config"
	"github.com/campusnet/forum/internal/infra"
	"github.com/campusnet/forum/internal/infra/cache"
	"github.com/campusnet/forum/internal/infra/db"
	"github.com/campusnet/forum/internal/infra/docstore"
	"github.com/campusnet/forum/internal/infra/migrations"
	"github.com/campusnet/forum/internal/messages"
	"github.com/campusnet/forum/internal/version"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	clearCmd := flag.NewFlagSet("clear-ratelimit", flag.ExitOnError)
	clearAll := clearCmd.Bool("all", false, "clear all rate limits")
	clearKey := clearCmd.String("key", "", "clear one action:subject key, e.g. post:<user-id>")

	if len(os.Args) < 2 {
		printUsage()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch os.Args[1] {
	case "clear-ratelimit":
		if err := clearCmd.Parse(os.Args[2:]); err != nil {
			return err
		}
		return handleClearRateLimit(ctx, *clearAll, *clearKey)
	case "migrate":
		return handleMigrate(ctx)
	case "ensure-indexes":
		return handleEnsureIndexes(ctx)
	case "version":
		fmt.Println(version.String())
		return nil
	default:
		printUsage()
		return nil
	}
}

func handleClearRateLimit(ctx context.Context, all bool, key string) error {
	if !all && key == "" {
		return fmt.Errorf("must specify either --all or --key")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Redis.Enabled {
		return fmt.Errorf("redis is not enabled in config")
	}

	cacheClient, err := cache.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer func() {
		if err := cacheClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing cache client: %v\n", err)
		}
	}()

	pattern := "ratelimit:*"
	if !all {
		pattern = "ratelimit:" + key
	}

	count, err := cacheClient.DeleteMatching(ctx, pattern)
	if err != nil {
		return fmt.Errorf("clear rate limits: %w", err)
	}
	if count == 0 {
		fmt.Println("No rate limit keys found")
		return nil
	}
	fmt.Printf("Cleared %d rate limit keys\n", count)
	return nil
}

func handleMigrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	database, err := db.New(ctx, cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	applied, err := migrations.Run(ctx, database.Pool)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if len(applied) == 0 {
		fmt.Println("Schema is up to date")
		return nil
	}
	for _, m := range applied {
		fmt.Printf("Applied %03d_%s\n", m.Version, m.Name)
	}
	return nil
}

func handleEnsureIndexes(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := docstore.New(ctx, cfg.Mongo)
	if err != nil {
		return fmt.Errorf("connect to mongo: %w", err)
	}
	defer func() {
		_ = store.Close(context.Background())
	}()

	ids, err := infra.NewIDGenerator(cfg.Server.NodeID)
	if err != nil {
		return err
	}

	repo := messages.NewMongoRepository(store.Collection(docstore.CollectionMessages), ids)
	if err := repo.EnsureIndexes(ctx); err != nil {
		return err
	}
	fmt.Println("Indexes ensured")
	return nil
}

func printUsage() {
	fmt.Println("Campus forum CLI")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  forum-cli clear-ratelimit --all")
	fmt.Println("  forum-cli clear-ratelimit --key <action>:<subject>")
	fmt.Println("  forum-cli migrate")
	fmt.Println("  forum-cli ensure-indexes")
	fmt.Println("  forum-cli version")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  forum-cli clear-ratelimit --key post:3f1c2a9e-0c6b-4b8e-9d2f-1a2b3c4d5e6f")
	fmt.Println("  forum-cli clear-ratelimit --key 'vote:*'")
}
