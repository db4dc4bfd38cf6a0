package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/raffle-go/internal/domain"
	redisrepo "github.com/kirinyoku/raffle-go/internal/repository/redis"
	"github.com/kirinyoku/raffle-go/internal/service"
	"github.com/kirinyoku/raffle-go/internal/service/admin"
	"github.com/kirinyoku/raffle-go/internal/service/orders"
	"github.com/kirinyoku/raffle-go/internal/service/query"
	"github.com/kirinyoku/raffle-go/internal/service/reservation"
	"github.com/kirinyoku/raffle-go/internal/service/webhook"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const maxWebhookBody = 64 << 10

type Options struct {
	// Idem enables Idempotency-Key support on POST /raffle/buy. May be nil.
	Idem *redisrepo.IdempotencyStore

	// Hub feeds GET /raffle/stream. May be nil, which disables the route.
	Hub *Hub

	// AdminAccounts protects /admin with HTTP basic auth. Empty disables the admin API.
	AdminAccounts gin.Accounts

	CORSOrigins []string
}

func NewRouter(
	svcs *service.Services,
	opts Options,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS(opts.CORSOrigins...))
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public API
	raffle := r.Group("/raffle")
	{
		raffle.GET("/tickets", handleGetBoard(svcs))
		raffle.GET("/tickets/:number", handleGetTicket(svcs))
		raffle.POST("/buy", handleBuy(svcs, opts.Idem))
		raffle.POST("/webhook", handleWebhook(svcs, logger))
		raffle.GET("/orders/:id", handleGetOrder(svcs))

		if opts.Hub != nil {
			raffle.GET("/stream", handleStream(opts.Hub))
		}
	}

	// Admin-API
	if len(opts.AdminAccounts) > 0 {
		adm := r.Group("/admin/raffle", gin.BasicAuth(opts.AdminAccounts))
		{
			adm.GET("/tickets", handleAdminTickets(svcs))
			adm.GET("/counts", handleAdminCounts(svcs))
			adm.POST("/tickets/:number/reverse", handleReverse(svcs))
			adm.POST("/sweep", handleSweep(svcs))
			adm.POST("/seed", handleSeed(svcs))
		}
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Raffle board
// @Success  200  {object}  domain.Board
// @Router   /raffle/tickets [get]
func handleGetBoard(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := svcs.Query.Board(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, b, "public, max-age=5", true)
	}
}

// @Summary  Ticket status
// @Param    number  path  string  true  "Ticket number"
// @Success  200  {object}  domain.TicketSummary
// @Failure  404  {object}  ErrorResponse
// @Router   /raffle/tickets/{number} [get]
func handleGetTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svcs.Query.TicketStatus(c.Request.Context(), c.Param("number"))
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, t, "no-cache", true)
	}
}

// @Summary  Buy a ticket (idempotent)
// @Param    req body  BuyRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} BuyResponse
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse "ticket not available"
// @Failure  409 {object} ErrorResponse "idempotency key in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Failure  500 {object} ErrorResponse "payment gateway error"
// @Router   /raffle/buy [post]
func handleBuy(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BuyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemPurchase(idemKey)

			if replayIdempotent(c, idem, idemStorageKey, idemKey) {
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				60*time.Second,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if replayIdempotent(c, idem, idemStorageKey, idemKey) {
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Message: "idempotency key in progress"},
				)
				return
			}
		}

		intent, err := svcs.Reservation.BeginPurchase(c.Request.Context(), reservation.PurchaseRequest{
			Number:  req.Number,
			Name:    req.Name,
			Email:   req.Email,
			RateKey: "ip:" + c.ClientIP(),
		})
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := BuyResponse{
			PaymentURL: intent.PaymentURL,
			OrderID:    intent.OrderID,
			Number:     intent.Number,
		}

		if idemStorageKey != "" {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func replayIdempotent(c *gin.Context, idem *redisrepo.IdempotencyStore, storageKey, idemKey string) bool {
	payload, ok, _ := idem.GetResult(c.Request.Context(), storageKey)
	if !ok {
		return false
	}

	c.Header("Idempotency-Key", idemKey)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))

	return true
}

// @Summary  Payment gateway notification
// @Description Always answers 200 so the gateway does not retry; the outcome is only logged.
// @Param    data.id  query  string  false  "Payment id"
// @Param    type     query  string  false  "Notification type"
// @Success  200
// @Router   /raffle/webhook [post]
func handleWebhook(svcs *service.Services, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := webhook.Notification{
			PaymentID: firstNonEmpty(c.Query("data.id"), c.Query("id")),
			Topic:     firstNonEmpty(c.Query("type"), c.Query("topic")),
			RequestID: c.GetHeader("X-Request-Id"),
			Signature: c.GetHeader("X-Signature"),
		}

		if n.PaymentID == "" || n.Topic == "" {
			var body webhookBody
			raw, err := readLimited(c, maxWebhookBody)
			if err == nil && len(raw) > 0 && json.Unmarshal(raw, &body) == nil {
				n.PaymentID = firstNonEmpty(n.PaymentID, string(body.Data.ID), body.Resource)
				n.Topic = firstNonEmpty(n.Topic, body.Type, body.Topic)
			}
		}

		outcome := svcs.Webhook.Handle(c.Request.Context(), n)

		reqID, _ := c.Get("request_id")
		logger.Debug("webhook handled",
			slog.String("outcome", string(outcome)),
			slog.Any("request_id", reqID),
		)

		c.Status(http.StatusOK)
	}
}

// @Summary  Order status
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200 {object} domain.OrderStatus
// @Failure  404 {object} ErrorResponse
// @Router   /raffle/orders/{id} [get]
func handleGetOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svcs.Orders.GetOrderStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// @Summary  List tickets with buyer data
// @Security BasicAuth
// @Param    status  query  string  false  "available | pending | sold"  default(sold)
// @Param    limit   query  int     false  "page size"
// @Param    offset  query  int     false  "offset"
// @Success  200  {array}  AdminTicket
// @Router   /admin/raffle/tickets [get]
func handleAdminTickets(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := domain.TicketStatus(c.DefaultQuery("status", string(domain.TicketSold)))
		limit := parseIntDefault(c.Query("limit"), 0)
		offset := parseIntDefault(c.Query("offset"), 0)

		ts, err := svcs.Query.Tickets(c.Request.Context(), status, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toAdminTickets(ts))
	}
}

// @Summary  Ticket counts by status
// @Security BasicAuth
// @Success  200  {object}  domain.TicketCounts
// @Router   /admin/raffle/counts [get]
func handleAdminCounts(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		cnt, err := svcs.Query.Counts(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, cnt)
	}
}

// @Summary  Reverse a sale after refund or chargeback
// @Security BasicAuth
// @Param    number  path  string          true  "Ticket number"
// @Param    req     body  ReverseRequest  true  "payload"
// @Success  204
// @Failure  409 {object} ErrorResponse
// @Router   /admin/raffle/tickets/{number}/reverse [post]
func handleReverse(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReverseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := svcs.Reservation.Reverse(c.Request.Context(), c.Param("number"), req.PaymentID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Release stale pending reservations now
// @Security BasicAuth
// @Success  200 {object} SweepResponse
// @Router   /admin/raffle/sweep [post]
func handleSweep(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := svcs.Reservation.SweepStale(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, SweepResponse{Released: n})
	}
}

// @Summary  Wipe and recreate the ticket pool
// @Security BasicAuth
// @Param    req body  SeedRequest true "payload"
// @Success  201 {object} SeedResponse
// @Failure  409 {object} ErrorResponse "pool in use"
// @Router   /admin/raffle/seed [post]
func handleSeed(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SeedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		n, err := svcs.Admin.Seed(c.Request.Context(), admin.SeedRequest{
			PoolSize: req.PoolSize,
			Width:    req.Width,
			Force:    req.Force,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, SeedResponse{Created: n})
	}
}

// --- Helpers ---

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func readLimited(c *gin.Context, limit int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	return c.GetRawData()
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Message: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var vErr *reservation.ValidationError
	var rlErr *reservation.RateLimitedError
	var gwErr *reservation.GatewayError

	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: vErr.Error()})
	case errors.As(err, &rlErr):
		secs := int(rlErr.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Message: "too many purchase attempts, try again later"})
	case errors.As(err, &gwErr):
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "could not create the payment, please try again"})
	// reservation service
	case errors.Is(err, reservation.ErrTicketUnavailable):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "ticket not available"})
	case errors.Is(err, reservation.ErrTicketNotFound),
		errors.Is(err, query.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "ticket not found"})
	case errors.Is(err, reservation.ErrNotSold):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "ticket is not sold under this payment"})
	case errors.Is(err, reservation.ErrStaleReservation),
		errors.Is(err, reservation.ErrAnomaly):
		_ = c.Error(err)
		c.JSON(http.StatusConflict, ErrorResponse{Message: "ticket state changed, please reload"})
	// query service
	case errors.Is(err, query.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid status"})
	// orders service
	case errors.Is(err, orders.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "order not found"})
	// admin service
	case errors.Is(err, admin.ErrPoolInUse):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "pool has pending or sold tickets, use force"})
	case errors.Is(err, admin.ErrInvalidPool):
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid pool size or width"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
	}
}
