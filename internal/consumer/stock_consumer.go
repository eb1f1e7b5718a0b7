package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/good-food-maalsi/franchise-service/internal/messaging"
	"github.com/good-food-maalsi/franchise-service/internal/metrics"
	"github.com/good-food-maalsi/franchise-service/internal/models"
	"github.com/good-food-maalsi/franchise-service/internal/stock"
)

// ErrMalformed marks a message that can never be processed.
var ErrMalformed = errors.New("malformed order event")

const tracerName = "github.com/good-food-maalsi/franchise-service/internal/consumer"

type ItemResolver interface {
	ResolveAll(ctx context.Context, items []models.OrderItemEvent) ([]models.Requirement, []string)
}

type StockLedger interface {
	Apply(ctx context.Context, franchiseID string, plan stock.Plan) (*stock.Result, error)
	ApplyOnce(ctx context.Context, orderID, franchiseID string, plan stock.Plan) (*stock.Result, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any)
}

// Attempts counts failed processing attempts of an order between redeliveries.
type Attempts interface {
	Incr(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

type Options struct {
	Queue string

	// Idempotent records processed order ids so a redelivery deducts nothing.
	Idempotent bool

	// MaxDeliveries > 0 dead-letters a message after that many failed attempts.
	MaxDeliveries        int
	DeadLetterExchange   string
	DeadLetterRoutingKey string
}

// StockConsumer turns order.created messages into stock deductions. Each
// message ends acked or nacked; nothing escapes Handle.
type StockConsumer struct {
	transport messaging.Transport
	resolver  ItemResolver
	ledger    StockLedger
	events    EventPublisher
	attempts  Attempts
	validate  *validator.Validate
	metrics   *metrics.Registry
	tracer    trace.Tracer
	logger    *zap.Logger
	opts      Options
}

func NewStockConsumer(
	transport messaging.Transport,
	resolver ItemResolver,
	ledger StockLedger,
	events EventPublisher,
	attempts Attempts,
	m *metrics.Registry,
	logger *zap.Logger,
	opts Options,
) *StockConsumer {
	if attempts == nil {
		attempts = NewMemoryAttempts()
	}
	return &StockConsumer{
		transport: transport,
		resolver:  resolver,
		ledger:    ledger,
		events:    events,
		attempts:  attempts,
		validate:  validator.New(),
		metrics:   m,
		tracer:    otel.Tracer(tracerName),
		logger:    logger.With(zap.String("component", "stock_consumer")),
		opts:      opts,
	}
}

// Run consumes the order queue until ctx is done
func (c *StockConsumer) Run(ctx context.Context) error {
	c.logger.Info("👂 Waiting for order.created events", zap.String("queue", c.opts.Queue))
	return c.transport.Consume(ctx, c.opts.Queue, c.Handle)
}

// Handle processes one delivery to its terminal ack or nack. Cancelling ctx
// does not interrupt a delivery already in progress.
func (c *StockConsumer) Handle(ctx context.Context, msg amqp.Delivery) {
	ctx = messaging.ExtractContext(context.WithoutCancel(ctx), msg.Headers)
	ctx, span := c.tracer.Start(ctx, "process order.created", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	logger := c.logger.With(zap.String("message_id", msg.MessageId), zap.Bool("redelivered", msg.Redelivered))
	logger.Info("📥 Received order.created event")

	event, err := c.decode(msg.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed message")
		logger.Error("❌ Failed to parse event, dropping", zap.Error(err))
		c.nack(logger, msg, false, metrics.OutcomeRejected)
		return
	}

	span.SetAttributes(
		attribute.String("order.id", event.OrderID),
		attribute.String("franchise.id", event.ShopID),
		attribute.Int("order.items", len(event.Items)),
	)
	logger = logger.With(zap.String("order_id", event.OrderID), zap.String("franchise_id", event.ShopID))

	reqs, unresolvedItems := c.resolver.ResolveAll(ctx, event.Items)
	c.metrics.UnresolvedItems.Add(float64(len(unresolvedItems)))
	plan := stock.Aggregate(reqs)

	logger.Info("📦 Items resolved",
		zap.Int("items", len(event.Items)),
		zap.Int("unresolved_items", len(unresolvedItems)),
		zap.Int("ingredients", len(plan)),
	)

	if len(plan) == 0 {
		logger.Info("Nothing to deduct, acknowledging")
		c.ack(logger, msg, metrics.OutcomeAcked)
		return
	}

	start := time.Now()
	res, err := c.apply(ctx, event, plan)
	c.metrics.LedgerTxSec.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock update failed")
		c.retry(ctx, logger, msg, event, err)
		return
	}

	c.resetAttempts(ctx, logger, event.OrderID)

	if res.Duplicate {
		logger.Info("🔁 Order already applied, skipping")
		c.ack(logger, msg, metrics.OutcomeDuplicate)
		return
	}

	c.metrics.RowsUpdated.Add(float64(len(res.Updated)))
	c.metrics.RowsMissing.Add(float64(len(res.Unresolved)))

	logger.Info("✅ Stock reduced",
		zap.Strings("updated", res.Updated),
		zap.Strings("unresolved_ingredients", res.Unresolved),
		zap.Strings("depleted", res.Depleted),
	)
	c.ack(logger, msg, metrics.OutcomeAcked)

	c.events.Publish(ctx, models.RoutingKeyStockReduced, models.StockReducedEvent{
		OrderID:               event.OrderID,
		FranchiseID:           event.ShopID,
		Updated:               orEmpty(res.Updated),
		UnresolvedIngredients: orEmpty(res.Unresolved),
		UnresolvedItems:       orEmpty(unresolvedItems),
		Depleted:              orEmpty(res.Depleted),
	})
}

func (c *StockConsumer) decode(body []byte) (*models.OrderCreatedEvent, error) {
	var event models.OrderCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := c.validate.Struct(event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &event, nil
}

func (c *StockConsumer) apply(ctx context.Context, event *models.OrderCreatedEvent, plan stock.Plan) (*stock.Result, error) {
	if c.opts.Idempotent {
		return c.ledger.ApplyOnce(ctx, event.OrderID, event.ShopID, plan)
	}
	return c.ledger.Apply(ctx, event.ShopID, plan)
}

// retry requeues the message, or dead-letters it once MaxDeliveries
// attempts have failed.
func (c *StockConsumer) retry(ctx context.Context, logger *zap.Logger, msg amqp.Delivery, event *models.OrderCreatedEvent, cause error) {
	if c.opts.MaxDeliveries <= 0 {
		logger.Error("❌ Stock update failed, requeueing", zap.Error(cause))
		c.nack(logger, msg, true, metrics.OutcomeRequeued)
		return
	}

	attempt := c.attempt(ctx, logger, msg, event.OrderID)
	if attempt < c.opts.MaxDeliveries {
		logger.Error("❌ Stock update failed, requeueing",
			zap.Int("attempt", attempt),
			zap.Int("max_deliveries", c.opts.MaxDeliveries),
			zap.Error(cause),
		)
		c.nack(logger, msg, true, metrics.OutcomeRequeued)
		return
	}

	c.deadLetter(ctx, logger, msg, event, attempt, cause)
}

// attempt returns the number of this attempt, preferring the broker's
// x-delivery-count (quorum queues) over the side counter.
func (c *StockConsumer) attempt(ctx context.Context, logger *zap.Logger, msg amqp.Delivery, orderID string) int {
	if n, ok := deliveryCount(msg.Headers); ok {
		return n + 1
	}

	n, err := c.attempts.Incr(ctx, orderID)
	if err != nil {
		logger.Warn("⚠️ Failed to count attempt", zap.Error(err))
		return 0
	}
	return n
}

func deliveryCount(headers amqp.Table) (int, bool) {
	switch v := headers["x-delivery-count"].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	}
	return 0, false
}

func (c *StockConsumer) deadLetter(ctx context.Context, logger *zap.Logger, msg amqp.Delivery, event *models.OrderCreatedEvent, attempt int, cause error) {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-death-reason"] = cause.Error()
	headers["x-attempts"] = int32(attempt)
	headers["x-original-message-id"] = msg.MessageId

	err := c.transport.Publish(ctx, c.opts.DeadLetterExchange, c.opts.DeadLetterRoutingKey, msg.Body, headers)
	if err != nil {
		logger.Error("❌ Failed to dead-letter message, requeueing", zap.Error(err))
		c.nack(logger, msg, true, metrics.OutcomeRequeued)
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("order_id", event.OrderID)
		scope.SetTag("franchise_id", event.ShopID)
		scope.SetContext("delivery", sentry.Context{
			"attempts":    attempt,
			"message_id":  msg.MessageId,
			"dead_letter": c.opts.DeadLetterExchange,
		})
		sentry.CaptureException(cause)
	})

	logger.Error("☠️ Message dead-lettered",
		zap.Int("attempts", attempt),
		zap.String("exchange", c.opts.DeadLetterExchange),
		zap.Error(cause),
	)
	c.resetAttempts(ctx, logger, event.OrderID)
	c.ack(logger, msg, metrics.OutcomeDeadLettered)
}

func (c *StockConsumer) resetAttempts(ctx context.Context, logger *zap.Logger, orderID string) {
	if c.opts.MaxDeliveries <= 0 {
		return
	}
	if err := c.attempts.Reset(ctx, orderID); err != nil {
		logger.Warn("⚠️ Failed to reset attempt counter", zap.Error(err))
	}
}

func (c *StockConsumer) ack(logger *zap.Logger, msg amqp.Delivery, outcome string) {
	if err := msg.Ack(false); err != nil {
		logger.Error("❌ Failed to ack message", zap.Error(err))
		return
	}
	c.metrics.Outcome(outcome)
	logger.Info("Message acknowledged", zap.String("outcome", outcome))
}

func (c *StockConsumer) nack(logger *zap.Logger, msg amqp.Delivery, requeue bool, outcome string) {
	if err := msg.Nack(false, requeue); err != nil {
		logger.Error("❌ Failed to nack message", zap.Error(err))
		return
	}
	c.metrics.Outcome(outcome)
	logger.Info("Message rejected", zap.String("outcome", outcome), zap.Bool("requeue", requeue))
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
