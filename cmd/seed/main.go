// Command seed wipes and recreates the ticket pool in Postgres.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kirinyoku/raffle-go/internal/config"
	"github.com/kirinyoku/raffle-go/internal/postgres"
	postgresrepo "github.com/kirinyoku/raffle-go/internal/repository/postgres"
	"github.com/kirinyoku/raffle-go/internal/service/admin"
	"github.com/spf13/pflag"
)

func main() {
	var (
		poolSize   = pflag.Int("pool-size", 0, "number of tickets, 0 keeps the raffle definition")
		width      = pflag.Int("width", 0, "digits per ticket number, 0 keeps the raffle definition")
		force      = pflag.Bool("force", false, "reseed even when tickets are pending or sold")
		raffleFile = pflag.String("raffle-file", os.Getenv("RAFFLE_FILE"), "YAML raffle definition")
	)
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(context.Background(), logger, *raffleFile, admin.SeedRequest{
		PoolSize: *poolSize,
		Width:    *width,
		Force:    *force,
	}); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, raffleFile string, req admin.SeedRequest) error {
	pgCfg, err := config.NewPostgres()
	if err != nil {
		return err
	}

	raffle, err := config.LoadRaffle(raffleFile)
	if err != nil {
		return err
	}

	pool, err := postgres.New(ctx, postgres.Config{DSN: pgCfg.DSN(), MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgresrepo.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	n, err := admin.New(store.Tickets(), nil, raffle, logger).Seed(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("created %d tickets\n", n)

	return nil
}
