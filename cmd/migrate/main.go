package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"matjip-chat/config"
	"matjip-chat/internal/repository"
	"matjip-chat/pkg/database"
)

const usage = `
Matjip Chat - Database CLI Tool

Usage:
  migrate [command]

Commands:
  up          Apply pending migrations
  down        Roll back all migrations
  status      Show database connection and table status
  seed-dev    Seed with development data
  truncate    Truncate all chat tables (DANGEROUS)

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate seed-dev
`

func main() {
	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	cfg := config.LoadConfig()
	if cfg.DatabaseURL == "" {
		log.Fatal("❌ DATABASE_URL is not set")
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer pool.Close()

	switch command {
	case "up":
		log.Println("🚀 Running migrations UP...")
		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatalf("❌ Migration failed: %v", err)
		}
		log.Println("✅ Migrations completed successfully!")
	case "down":
		log.Println("⬇️  Rolling back migrations...")
		if err := database.Rollback(ctx, pool); err != nil {
			log.Fatalf("❌ Rollback failed: %v", err)
		}
		log.Println("✅ Rollback completed successfully!")
	case "status":
		showStatus(ctx, pool)
	case "seed-dev":
		log.Println("🌱 Seeding database (development mode)...")
		if _, err := database.SeedDevelopment(ctx, repository.NewPostgres(pool)); err != nil {
			log.Fatalf("❌ Seeding failed: %v", err)
		}
		log.Println("✅ Development seeding completed!")
	case "truncate":
		log.Println("⚠️  WARNING: This will TRUNCATE all chat tables!")
		if err := database.TruncateAll(ctx, pool); err != nil {
			log.Fatalf("❌ Truncate failed: %v", err)
		}
		log.Println("✅ All tables truncated!")
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func showStatus(ctx context.Context, pool *pgxpool.Pool) {
	log.Println("🔍 Checking database status...")
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	for _, table := range database.ChatTables {
		exists, err := database.TableExists(ctx, pool, table)
		if err != nil {
			log.Printf("⚠️  Error checking table %s: %v", table, err)
			continue
		}
		if !exists {
			log.Printf("❌ Table %-20s does not exist", table)
			continue
		}
		var count int64
		_ = pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
		log.Printf("✅ Table %-20s exists (%d rows)", table, count)
	}
}
