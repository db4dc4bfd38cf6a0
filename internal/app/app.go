package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/raffle-go/internal/config"
	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/kirinyoku/raffle-go/internal/email"
	"github.com/kirinyoku/raffle-go/internal/gateway/mercadopago"
	"github.com/kirinyoku/raffle-go/internal/kafka"
	"github.com/kirinyoku/raffle-go/internal/notify"
	"github.com/kirinyoku/raffle-go/internal/postgres"
	"github.com/kirinyoku/raffle-go/internal/redis"
	"github.com/kirinyoku/raffle-go/internal/repository/memory"
	postgresrepo "github.com/kirinyoku/raffle-go/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/raffle-go/internal/repository/redis"
	"github.com/kirinyoku/raffle-go/internal/service"
	"github.com/kirinyoku/raffle-go/internal/service/admin"
	"github.com/kirinyoku/raffle-go/internal/service/reservation"
	httpgin "github.com/kirinyoku/raffle-go/internal/transport/http/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services

	pgPool   *pgxpool.Pool
	rdb      *goredis.Client
	pubsub   *redisrepo.TicketsPubSub
	hub      *httpgin.Hub
	producer *kafka.Producer
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: logger,
		hub:    httpgin.NewHub(),
	}

	store, err := a.initStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	gateway, err := mercadopago.NewClient(mercadopagoConfig(cfg), cfg.Raffle.Definition)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize mercadopago: %w", err)
	}

	deps := service.Deps{
		Store:   store,
		Gateway: gateway,
		Raffle:  cfg.Raffle.Definition,
		Log:     logger,
	}

	if cfg.MercadoPago.WebhookSecret != "" {
		deps.Verifier = mercadopago.NewVerifier(cfg.MercadoPago.WebhookSecret)
	} else {
		logger.Warn("MP_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}

	var idem *redisrepo.IdempotencyStore
	if cfg.Redis.Enabled {
		rdb, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.rdb = rdb
		a.pubsub = redisrepo.NewTicketsPubSub(rdb)

		deps.Cache = redisrepo.NewCache(rdb)
		deps.PubSub = a.pubsub
		deps.Limiter = redisrepo.NewAttemptLimiter(rdb, "purchase", 10, time.Minute)
		deps.Locker = redisrepo.NewPaymentLocker(rdb, 30*time.Second)
		idem = redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)
	} else {
		deps.Broadcast = func(_ context.Context, number string, status domain.TicketStatus) {
			a.hub.Publish(domain.TicketSummary{Number: number, Status: status})
		}
	}

	if cfg.Kafka.Enabled() {
		a.producer = kafka.NewProducer(cfg.Kafka.Brokers, logger)
		deps.Notifier = notify.NewQueue(a.producer, cfg.Kafka.NotificationsTopic, cfg.Raffle.Definition.Title)
	} else {
		deps.Notifier = notify.NewDirect(email.NewSender(email.Config(cfg.SMTP), logger), cfg.Raffle.Definition.Title)
	}

	a.services = service.NewServices(deps, service.Config{
		Reservation: reservation.Config{PendingTTL: cfg.Raffle.PendingTTL},
	})

	if err := a.seedIfEmpty(ctx, store); err != nil {
		a.close()
		return nil, err
	}

	var accounts gin.Accounts
	if cfg.Admin.Enabled() {
		accounts = gin.Accounts{cfg.Admin.User: cfg.Admin.Password}
	}

	router := httpgin.NewRouter(a.services, httpgin.Options{
		Idem:          idem,
		Hub:           a.hub,
		AdminAccounts: accounts,
		CORSOrigins:   []string{cfg.Server.FrontendURL},
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) initStore(ctx context.Context) (service.TicketStore, error) {
	if a.cfg.Storage == config.StorageMemory {
		a.logger.Warn("using in-memory ticket store, sales are lost on restart")
		return memory.NewTicketStore(), nil
	}

	pool, err := postgres.New(ctx, postgres.Config{
		DSN:      a.cfg.Postgres.DSN(),
		MaxConns: a.cfg.Postgres.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	a.pgPool = pool

	store := postgresrepo.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}

	return store.Tickets(), nil
}

// seedIfEmpty creates the pool on first start. An existing pool is never touched.
func (a *App) seedIfEmpty(ctx context.Context, store service.TicketStore) error {
	c, err := store.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count tickets: %w", err)
	}
	if c.Total > 0 {
		a.logger.Info("ticket pool loaded",
			slog.Int64("total", c.Total),
			slog.Int64("sold", c.Sold),
			slog.Int64("pending", c.Pending),
		)
		return nil
	}

	n, err := a.services.Admin.Seed(ctx, admin.SeedRequest{})
	if err != nil {
		return fmt.Errorf("failed to seed tickets: %w", err)
	}
	a.logger.Info("ticket pool seeded", slog.Int64("created", n))

	return nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Release reservations whose checkout was abandoned
	g.Go(func() error {
		a.sweep(gCtx)
		return nil
	})

	// Feed SSE clients from other instances' changes
	if a.pubsub != nil {
		g.Go(func() error {
			err := a.pubsub.Subscribe(gCtx, func(_ context.Context, ch redisrepo.TicketChange) {
				a.hub.Publish(domain.TicketSummary{Number: ch.Number, Status: ch.Status})
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("ticket change subscription stopped", slog.Any("err", err))
			}
			return nil
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := a.httpServer.Shutdown(ctx)

		if werr := a.services.Webhook.Wait(ctx); werr != nil {
			a.logger.Warn("pending notifications not delivered", slog.Any("err", werr))
		}

		return err
	})

	return g.Wait()
}

func (a *App) sweep(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Raffle.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.services.Reservation.SweepStale(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Error("sweep stale reservations", slog.Any("err", err))
				}
				continue
			}
			if n > 0 {
				a.logger.Info("released stale reservations", slog.Int("count", n))
			}
		}
	}
}

func (a *App) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", slog.Any("err", err))
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}

func mercadopagoConfig(cfg *config.Config) mercadopago.Config {
	return mercadopago.Config{
		BaseURL:         cfg.MercadoPago.BaseURL,
		AccessToken:     cfg.MercadoPago.AccessToken,
		NotificationURL: cfg.Server.PublicURL + "/raffle/webhook",
		FrontendURL:     cfg.Server.FrontendURL,
		Sandbox:         cfg.MercadoPago.Sandbox,
	}
}
