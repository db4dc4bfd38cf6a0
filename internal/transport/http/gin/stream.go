package httpgin

import (
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/raffle-go/internal/domain"
)

const streamKeepAlive = 25 * time.Second

// Hub fans ticket changes out to connected SSE clients. Slow clients miss
// events rather than block publishers; they resync from GET /raffle/tickets.
type Hub struct {
	mu   sync.Mutex
	subs map[chan domain.TicketSummary]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan domain.TicketSummary]struct{})}
}

func (h *Hub) Publish(ev domain.TicketSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a client. The returned func must be called to unsubscribe.
func (h *Hub) Subscribe() (<-chan domain.TicketSummary, func()) {
	ch := make(chan domain.TicketSummary, 32)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// @Summary  Live ticket status changes (Server-Sent Events)
// @Produce  text/event-stream
// @Success  200 {object} domain.TicketSummary "event: ticket"
// @Router   /raffle/stream [get]
func handleStream(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, unsubscribe := hub.Subscribe()
		defer unsubscribe()

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case ev := <-events:
				c.SSEvent("ticket", ev)
				return true
			case <-keepAlive.C:
				c.SSEvent("ping", time.Now().Unix())
				return true
			}
		})
	}
}
