package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kirinyoku/raffle-go/internal/domain"
	"github.com/redis/go-redis/v9"
)

// TicketsPubSub fans ticket status changes out to every API instance.
type TicketsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewTicketsPubSub(rdb *redis.Client) *TicketsPubSub {
	return &TicketsPubSub{
		rdb:     rdb,
		channel: ChannelTicketsChanged(),
	}
}

type TicketChange struct {
	Type   string              `json:"type"`
	Number string              `json:"number"`
	Status domain.TicketStatus `json:"status"`
	TsUnix int64               `json:"ts_unix"`
}

func (p *TicketsPubSub) PublishTicketChanged(ctx context.Context, number string, status domain.TicketStatus) error {
	msg := TicketChange{
		Type:   "ticket_changed",
		Number: number,
		Status: status,
		TsUnix: time.Now().Unix(),
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// Subscribe blocks until ctx is done, calling handler for every well-formed message.
func (p *TicketsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, ch TicketChange)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	msgs := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			var ch TicketChange
			if err := json.Unmarshal([]byte(m.Payload), &ch); err == nil &&
				ch.Number != "" && ch.Status.Valid() {
				handler(ctx, ch)
			}
		}
	}
}
