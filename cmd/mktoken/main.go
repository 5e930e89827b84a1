// Command mktoken mints an API token against the configured database
// and prints the bearer credential once. Token creation is an
// administrative action, not an API surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/stocksync/stocksync-go/internal/config"
	"github.com/stocksync/stocksync-go/internal/model"
	"github.com/stocksync/stocksync-go/internal/repository"
	"github.com/stocksync/stocksync-go/internal/token"
)

func main() {
	name := flag.String("name", "", "token holder name (required)")
	abilities := flag.String("abilities", model.AbilitySync, "comma-separated abilities, or * for all")
	expiresIn := flag.Duration("expires-in", 0, "lifetime, e.g. 720h; zero means no expiry")
	flag.Parse()

	if *name == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	cfg := config.Load()

	db, err := repository.NewDB(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repository.Migrate(db, cfg.DBDriver); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	secret, hash, err := token.Mint()
	if err != nil {
		slog.Error("minting token failed", "error", err)
		os.Exit(1)
	}

	now := time.Now().UTC()
	t := &model.APIToken{
		Name:       *name,
		SecretHash: hash,
		CreatedAt:  now,
	}
	for _, a := range strings.Split(*abilities, ",") {
		if a = strings.TrimSpace(a); a != "" {
			t.Abilities = append(t.Abilities, a)
		}
	}
	if *expiresIn > 0 {
		expires := now.Add(*expiresIn)
		t.ExpiresAt = &expires
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := repository.NewTokenStore(db).Create(ctx, t); err != nil {
		slog.Error("storing token failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("token %d (%s) created\n", t.ID, t.Name)
	fmt.Println("store this credential now, it will not be shown again:")
	fmt.Println(token.Format(t.ID, secret))
}
