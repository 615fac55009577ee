package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rushadaev/dj-connect-back/internal/infrastructure/kafka"
	"github.com/rushadaev/dj-connect-back/internal/infrastructure/redis"
	"github.com/rushadaev/dj-connect-back/internal/models"
)

const (
	TypeOrderCreated = "order_created"
	TypeOrderUpdated = "order_updated"
)

// Channel name prefixes the socket-server subscribes to (pattern
// subscription, one channel per order).
const (
	channelOrderCreated = "djconnect_database_order-created-%d"
	channelOrderUpdated = "djconnect_database_order-update-%d"
)

type orderEvent struct {
	Event string `json:"event"`
	Data  struct {
		Order *models.Order `json:"order"`
	} `json:"data"`
}

// Publisher emits domain events at the end of state-mutating operations:
// to Kafka for durable consumers and to Redis pub/sub for the real-time
// fan-out layer. Both paths are fire-and-forget; the order mutation has
// already been persisted by the time an event goes out.
type Publisher struct {
	producer kafka.KafkaProducer
	redis    redis.RedisClient
}

func NewPublisher(producer kafka.KafkaProducer, redisClient redis.RedisClient) *Publisher {
	return &Publisher{producer: producer, redis: redisClient}
}

func (p *Publisher) OrderCreated(ctx context.Context, o *models.Order) {
	p.publish(ctx, TypeOrderCreated, fmt.Sprintf(channelOrderCreated, o.ID), o)
}

func (p *Publisher) OrderUpdated(ctx context.Context, o *models.Order) {
	p.publish(ctx, TypeOrderUpdated, fmt.Sprintf(channelOrderUpdated, o.ID), o)
}

func (p *Publisher) publish(ctx context.Context, eventType, channel string, o *models.Order) {
	if o == nil {
		return
	}
	event := orderEvent{Event: eventType}
	event.Data.Order = o

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal order event", "event", eventType, "order_id", o.ID, "error", err)
		return
	}

	if p.redis != nil {
		if err := p.redis.Publish(ctx, channel, payload); err != nil {
			slog.Error("failed to publish order event to Redis", "channel", channel, "order_id", o.ID, "error", err)
		}
	}

	if p.producer != nil {
		orderID := o.ID
		go func() {
			retries := 3
			for i := 0; i < retries; i++ {
				if err := p.producer.Send(context.Background(), orderID, payload); err == nil {
					return
				}
				time.Sleep(time.Second * time.Duration(i+1))
			}
			slog.Error("failed to send order event after retries", "event", eventType, "order_id", orderID)
		}()
	}
}
