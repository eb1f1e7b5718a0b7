package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Publish while no broker session is open.
var ErrNotConnected = errors.New("rabbitmq: not connected")

// Handler processes one delivery. It owns the Ack/Nack of the delivery.
type Handler func(ctx context.Context, msg amqp.Delivery)

// Transport is the capability the consumer and the publisher depend on.
// Implementations keep the broker session alive across network blips.
type Transport interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
	Consume(ctx context.Context, queue string, handler Handler) error
	Connected() bool
}

// Topology is a durable exchange and, when Queue is set, a durable queue
// bound to it by exact routing key.
type Topology struct {
	Exchange   string
	Kind       string // defaults to topic
	Queue      string
	RoutingKey string
}

type Options struct {
	URL       string
	Name      string // connection name shown in the management UI
	Heartbeat time.Duration
	Prefetch  int

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	OnReconnect      func()
}

// amqpChannel is the subset of *amqp.Channel used here.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

type amqpConnection interface {
	Channel() (amqpChannel, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

type dialFunc func(url string, cfg amqp.Config) (amqpConnection, error)

type connection struct {
	*amqp.Connection
}

func (c *connection) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string, cfg amqp.Config) (amqpConnection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return &connection{Connection: conn}, nil
}

// session is one connection plus its channel. done is closed once the
// session has been torn down.
type session struct {
	conn       amqpConnection
	channel    amqpChannel
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	done       chan struct{}
	once       sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.channel.Close()
		_ = s.conn.Close()
	})
}

// RabbitMQ is a supervised broker session. Topologies and the prefetch are
// re-declared on every reconnect.
type RabbitMQ struct {
	opts   Options
	dial   dialFunc
	logger *zap.Logger

	setupMu    sync.Mutex
	topologies []Topology

	mu      sync.RWMutex
	session *session
	ready   chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRabbitMQ(opts Options, logger *zap.Logger) *RabbitMQ {
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = 500 * time.Millisecond
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	return &RabbitMQ{
		opts:   opts,
		dial:   dialAMQP,
		logger: logger.With(zap.String("component", "rabbitmq"), zap.String("connection", opts.Name)),
		ready:  make(chan struct{}),
	}
}

// DeclareTopology registers t. It is declared immediately when connected and
// again after every reconnect.
func (r *RabbitMQ) DeclareTopology(t Topology) error {
	r.setupMu.Lock()
	defer r.setupMu.Unlock()

	r.topologies = append(r.topologies, t)
	if s := r.current(); s != nil {
		return declare(s.channel, t)
	}
	return nil
}

// SetPrefetch sets how many unacknowledged deliveries the broker may push.
func (r *RabbitMQ) SetPrefetch(count int) error {
	r.setupMu.Lock()
	defer r.setupMu.Unlock()

	r.opts.Prefetch = count
	if s := r.current(); s != nil {
		if err := s.channel.Qos(count, 0, false); err != nil {
			return fmt.Errorf("failed to set prefetch: %w", err)
		}
	}
	return nil
}

// Start opens the first session and supervises it until ctx is done or
// Close is called. A failing first connection is returned to the caller.
func (r *RabbitMQ) Start(ctx context.Context) error {
	s, err := r.connect()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.supervise(runCtx, s)
	}()
	return nil
}

// StartAsync is Start without the synchronous first connection. The session
// comes up in the background; until then Publish returns ErrNotConnected.
func (r *RabbitMQ) StartAsync(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s, err := r.dialWithBackoff(runCtx)
		if err != nil {
			return
		}
		r.supervise(runCtx, s)
	}()
}

func (r *RabbitMQ) connect() (*session, error) {
	r.setupMu.Lock()
	defer r.setupMu.Unlock()

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(r.opts.Name)

	conn, err := r.dial(r.opts.URL, amqp.Config{Heartbeat: r.opts.Heartbeat, Properties: props})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	s := &session{
		conn:       conn,
		channel:    ch,
		connClosed: conn.NotifyClose(make(chan *amqp.Error, 1)),
		chanClosed: ch.NotifyClose(make(chan *amqp.Error, 1)),
		done:       make(chan struct{}),
	}

	for _, t := range r.topologies {
		if err := declare(ch, t); err != nil {
			s.close()
			return nil, err
		}
	}
	if r.opts.Prefetch > 0 {
		if err := ch.Qos(r.opts.Prefetch, 0, false); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	r.mu.Lock()
	r.session = s
	close(r.ready)
	r.mu.Unlock()

	r.logger.Info("✅ Connected to RabbitMQ", zap.Int("topologies", len(r.topologies)), zap.Int("prefetch", r.opts.Prefetch))
	return s, nil
}

func (r *RabbitMQ) supervise(ctx context.Context, s *session) {
	for {
		select {
		case <-ctx.Done():
			return
		case amqpErr, ok := <-s.connClosed:
			r.logClosed("connection", amqpErr, ok)
		case amqpErr, ok := <-s.chanClosed:
			r.logClosed("channel", amqpErr, ok)
		}

		r.teardown(s)

		next, err := r.dialWithBackoff(ctx)
		if err != nil {
			r.logger.Info("Reconnect loop stopped", zap.Error(err))
			return
		}
		if r.opts.OnReconnect != nil {
			r.opts.OnReconnect()
		}
		r.logger.Info("🔁 Reconnected to RabbitMQ")
		s = next
	}
}

func (r *RabbitMQ) logClosed(what string, amqpErr *amqp.Error, ok bool) {
	if ok && amqpErr != nil {
		r.logger.Error("❌ RabbitMQ "+what+" closed",
			zap.Int("code", amqpErr.Code),
			zap.String("reason", amqpErr.Reason),
			zap.Bool("server", amqpErr.Server),
		)
		return
	}
	r.logger.Warn("⚠️ RabbitMQ " + what + " closed")
}

// teardown clears the cached session so publishes become no-ops until the
// next session is installed.
func (r *RabbitMQ) teardown(s *session) {
	r.mu.Lock()
	if r.session == s {
		r.session = nil
		r.ready = make(chan struct{})
	}
	r.mu.Unlock()
	s.close()
}

func (r *RabbitMQ) dialWithBackoff(ctx context.Context) (*session, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.ReconnectInitial
	b.MaxInterval = r.opts.ReconnectMax
	b.MaxElapsedTime = 0

	var s *session
	err := backoff.RetryNotify(func() error {
		var err error
		s, err = r.connect()
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		r.logger.Warn("⚠️ RabbitMQ reconnect failed", zap.Error(err), zap.Duration("retry_in", next))
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RabbitMQ) current() *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// waitSession blocks until a session is available or ctx is done.
func (r *RabbitMQ) waitSession(ctx context.Context) (*session, error) {
	for {
		r.mu.RLock()
		s, ready := r.session, r.ready
		r.mu.RUnlock()
		if s != nil {
			return s, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Connected reports whether a session is currently open
func (r *RabbitMQ) Connected() bool {
	return r.current() != nil
}

// Publish sends a persistent JSON message. It returns ErrNotConnected while
// the session is down. The trace context of ctx is injected into the headers.
func (r *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	s := r.current()
	if s == nil {
		return ErrNotConnected
	}

	h := amqp.Table{}
	for k, v := range headers {
		h[k] = v
	}
	InjectContext(ctx, h)

	err := s.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers:      h,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.logger.Debug("📤 Message published", zap.String("exchange", exchange), zap.String("routing_key", routingKey))
	return nil
}

// Consume delivers messages from queue to handler with manual acks, one at a
// time, and re-subscribes after every reconnect. It returns when ctx is done.
func (r *RabbitMQ) Consume(ctx context.Context, queue string, handler Handler) error {
	for {
		s, err := r.waitSession(ctx)
		if err != nil {
			return nil
		}

		deliveries, err := s.channel.Consume(
			queue, // queue name
			"",    // consumer tag
			false, // auto-ack (false = manual ack)
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			r.logger.Error("❌ Failed to consume messages", zap.String("queue", queue), zap.Error(err))
			select {
			case <-s.done:
				continue
			case <-ctx.Done():
				return nil
			}
		}

		r.logger.Info("👂 Listening on queue", zap.String("queue", queue))
		if !r.drain(ctx, deliveries, handler) {
			return nil
		}
		r.logger.Warn("⚠️ Delivery channel closed, waiting for reconnect", zap.String("queue", queue))
		select {
		case <-s.done:
		case <-ctx.Done():
			return nil
		}
	}
}

// drain returns false when ctx is done and true when the deliveries
// channel was closed by the broker side.
func (r *RabbitMQ) drain(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-deliveries:
			if !ok {
				return true
			}
			handler(ctx, msg)
		}
	}
}

// Close stops the supervisor and closes the current session
func (r *RabbitMQ) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	s := r.session
	r.session = nil
	r.mu.Unlock()

	if s != nil {
		s.close()
	}
	r.logger.Info("RabbitMQ connection closed")
}

func declare(ch amqpChannel, t Topology) error {
	kind := t.Kind
	if kind == "" {
		kind = amqp.ExchangeTopic
	}

	if err := ch.ExchangeDeclare(
		t.Exchange, // name
		kind,       // type
		true,       // durable
		false,      // auto-delete
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}

	if t.Queue == "" {
		return nil
	}

	if _, err := ch.QueueDeclare(
		t.Queue, // queue name
		true,    // durable
		false,   // auto-delete
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.Queue, err)
	}

	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s: %w", t.Queue, t.Exchange, err)
	}
	return nil
}
