package metrics

import (
	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	purchases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_purchases_total",
			Help: "Purchase attempts by outcome",
		},
		[]string{"outcome"},
	)

	webhooks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_webhooks_total",
			Help: "Payment notifications by processing outcome",
		},
		[]string{"outcome"},
	)

	releases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_tickets_released_total",
			Help: "Pending tickets returned to the pool, by reason",
		},
		[]string{"reason"},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_notifications_total",
			Help: "Buyer confirmation notifications by outcome",
		},
		[]string{"outcome"},
	)

	tickets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raffle_tickets",
			Help: "Tickets in the pool by status",
		},
		[]string{"status"},
	)
)

func Purchase(outcome string) { purchases.WithLabelValues(outcome).Inc() }

func Webhook(outcome string) { webhooks.WithLabelValues(outcome).Inc() }

func Released(reason string) { releases.WithLabelValues(reason).Inc() }

func Notification(outcome string) { notifications.WithLabelValues(outcome).Inc() }

// ObserveCounts publishes the latest pool breakdown.
func ObserveCounts(c domain.TicketCounts) {
	tickets.WithLabelValues(string(domain.TicketAvailable)).Set(float64(c.Available))
	tickets.WithLabelValues(string(domain.TicketPending)).Set(float64(c.Pending))
	tickets.WithLabelValues(string(domain.TicketSold)).Set(float64(c.Sold))
}
