package main

import (
	"context"
	"log/slog"
	"os"

	_ "github.com/kirinyoku/raffle-go/docs"
	"github.com/kirinyoku/raffle-go/internal/app"
	"github.com/kirinyoku/raffle-go/internal/config"
)

// @title Raffle API
// @version 1.0
// @description Ticket sales for a numbered raffle, paid through Mercado Pago.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.basic BasicAuth
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		logger.Error("application finished with error", "error", err)
		os.Exit(1)
	}
}
