// Command notifier consumes ticket_sold events and emails the buyer.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirinyoku/raffle-go/internal/config"
	"github.com/kirinyoku/raffle-go/internal/email"
	"github.com/kirinyoku/raffle-go/internal/kafka"
	"github.com/kirinyoku/raffle-go/internal/notify"
)

const retryDelay = 5 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	kafkaCfg, smtpCfg, err := config.NewNotifier()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	sender := email.NewSender(email.Config(smtpCfg), logger)
	if !sender.Enabled() {
		logger.Warn("SMTP_HOST not set, confirmations are logged and dropped")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	worker := notify.NewWorker(sender, logger)

	logger.Info("notifier consuming",
		slog.String("topic", kafkaCfg.NotificationsTopic),
		slog.String("group", kafkaCfg.GroupID),
	)

	// Consume retries a failing send in place. It only returns on a broken
	// fetch or commit; a fresh reader picks up at the last committed offset.
	for {
		consumer := kafka.NewConsumer(kafkaCfg.Brokers, kafkaCfg.GroupID, kafkaCfg.NotificationsTopic, logger)
		err := consumer.Consume(ctx, worker.Handle)
		if cerr := consumer.Close(); cerr != nil {
			logger.Warn("close kafka consumer", slog.Any("err", cerr))
		}
		if err == nil || ctx.Err() != nil {
			break
		}

		logger.Error("consumer stopped, reconnecting", slog.Any("err", err), slog.Duration("in", retryDelay))

		select {
		case <-ctx.Done():
		case <-time.After(retryDelay):
		}
	}

	logger.Info("notifier stopped")
}
