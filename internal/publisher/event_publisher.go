package publisher

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/good-food-maalsi/franchise-service/internal/messaging"
	"github.com/good-food-maalsi/franchise-service/internal/metrics"
)

// EventPublisher announces franchise-domain events. Publishing is best
// effort: failures are logged and counted, never returned to the caller.
type EventPublisher struct {
	transport messaging.Transport
	exchange  string
	metrics   *metrics.Registry
	logger    *zap.Logger
}

func NewEventPublisher(transport messaging.Transport, exchange string, m *metrics.Registry, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		transport: transport,
		exchange:  exchange,
		metrics:   m,
		logger:    logger.With(zap.String("component", "publisher"), zap.String("exchange", exchange)),
	}
}

// Publish sends payload as JSON under routingKey
func (p *EventPublisher) Publish(ctx context.Context, routingKey string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("❌ Failed to marshal event", zap.String("routing_key", routingKey), zap.Error(err))
		p.metrics.EventsDropped.Inc()
		return
	}

	err = p.transport.Publish(ctx, p.exchange, routingKey, data, nil)
	switch {
	case err == nil:
		p.metrics.EventsPublished.Inc()
		p.logger.Info("📤 Event published", zap.String("routing_key", routingKey))
	case errors.Is(err, messaging.ErrNotConnected):
		p.metrics.EventsDropped.Inc()
		p.logger.Warn("⚠️ Publisher not connected, event dropped", zap.String("routing_key", routingKey))
	default:
		p.metrics.EventsDropped.Inc()
		p.logger.Warn("⚠️ Failed to publish event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}
