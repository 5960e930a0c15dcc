package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned when the channel was closed or never opened
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// URL renders the AMQP connection URL
func (c *Config) URL() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Password, c.Host, c.Port, vhost)
}

// Client holds one connection and one channel shared by publishers and the consumer.
// A channel lost to a broker error is reopened in the background until Close.
type Client struct {
	config    *Config
	logger    *slog.Logger
	dial      func(url string, config amqp.Config) (*amqp.Connection, error)
	connMu    sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	publishMu sync.Mutex
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient dials the broker with exponential backoff and declares the topology
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	client := newClient(config, logger)

	if err := client.connect(ctx); err != nil {
		client.cancel()
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

func newClient(config *Config, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config: config,
		logger: logger,
		dial:   amqp.DialConfig,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) retryPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	if c.config.RetryInterval > 0 {
		policy.InitialInterval = c.config.RetryInterval
	}
	policy.MaxElapsedTime = 0
	return policy
}

// connect retries open up to RetryAttempts times
func (c *Client) connect(ctx context.Context) error {
	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	attempt := 0
	open := func() error {
		attempt++
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)
		return c.open()
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Failed to connect to RabbitMQ, retrying",
			slog.Any("error", err),
			slog.Duration("retry_after", wait),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.retryPolicy(), uint64(attempts-1)), ctx)
	if err := backoff.RetryNotify(open, b, notify); err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempt, err)
	}

	return nil
}

// reconnect retries open without an attempt cap until it succeeds or the client is closed
func (c *Client) reconnect() {
	defer c.wg.Done()

	attempt := 0
	open := func() error {
		attempt++
		return c.open()
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Failed to reconnect to RabbitMQ, retrying",
			slog.Int("attempt", attempt),
			slog.Any("error", err),
			slog.Duration("retry_after", wait),
		)
	}

	if err := backoff.RetryNotify(open, backoff.WithContext(c.retryPolicy(), c.ctx), notify); err != nil {
		c.logger.Info("RabbitMQ reconnect stopped", slog.Any("error", err))
		return
	}

	c.logger.Info("RabbitMQ connection restored", slog.Int("attempts", attempt))
}

// open dials once, opens a channel, declares the topology and watches the channel
func (c *Client) open() error {
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	conn, err := c.dial(c.config.URL(), amqpConfig)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := setup(channel, c.config); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	closed := make(chan *amqp.Error, 1)
	channel.NotifyClose(closed)

	c.connMu.Lock()
	if err := c.ctx.Err(); err != nil {
		c.connMu.Unlock()
		channel.Close()
		conn.Close()
		return backoff.Permanent(err)
	}
	c.conn = conn
	c.channel = channel
	c.connMu.Unlock()

	c.connected.Store(true)
	c.wg.Add(1)
	go c.watch(closed)

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
	)

	return nil
}

// watch marks the client disconnected when the channel closes and starts a
// reconnect when the close came from the broker rather than from Close
func (c *Client) watch(closed <-chan *amqp.Error) {
	defer c.wg.Done()

	amqpErr, ok := <-closed
	c.connected.Store(false)
	if !ok || amqpErr == nil || c.ctx.Err() != nil {
		return
	}

	c.logger.Error("RabbitMQ channel closed", slog.String("reason", amqpErr.Reason))

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		conn.Close()
	}

	c.wg.Add(1)
	go c.reconnect()
}

func (c *Client) currentChannel() *amqp.Channel {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.channel
}

// setup declares the durable exchange, queue and binding
func setup(channel *amqp.Channel, config *Config) error {
	err := channel.ExchangeDeclare(
		config.ExchangeName,
		config.ExchangeType,
		config.ExchangeDurable,
		config.ExchangeAutoDelete,
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		config.QueueName,
		config.QueueDurable,
		config.QueueAutoDelete,
		config.QueueExclusive,
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.QueueBind(config.QueueName, config.RoutingKey, config.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// Publish sends one persistent message
func (c *Client) Publish(ctx context.Context, body []byte, contentType string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	err := c.currentChannel().PublishWithContext(
		ctx,
		c.config.ExchangeName,
		c.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.Int("body_size", len(body)),
		slog.String("content_type", contentType),
	)

	return nil
}

// PublishWithRetry publishes with exponential backoff; a closed channel is not retried
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	if c.config.PublishRetryDelay > 0 {
		policy.InitialInterval = c.config.PublishRetryDelay
	}
	if c.config.PublishBackoffMult > 0 {
		policy.Multiplier = c.config.PublishBackoffMult
	}
	policy.MaxElapsedTime = 0

	attempts := 0
	publish := func() error {
		attempts++
		err := c.Publish(ctx, body, contentType)
		if errors.Is(err, ErrNotConnected) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Failed to publish message to RabbitMQ, retrying",
			slog.Int("attempt", attempts),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_after", wait),
			slog.Any("error", err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries)), ctx)
	if err := backoff.RetryNotify(publish, b, notify); err != nil {
		c.logger.Error("Failed to publish message to RabbitMQ after all retries",
			slog.Int("attempts", attempts),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to publish message after %d attempts: %w", attempts, err)
	}

	return nil
}

// Qos caps the number of unacknowledged deliveries pushed to this consumer
func (c *Client) Qos(prefetch int) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.currentChannel().Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

// Consume starts a manual-ack consumer on the configured queue
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	messages, err := c.currentChannel().Consume(
		c.config.QueueName,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// Cancel stops the consumer so the broker stops pushing new deliveries
func (c *Client) Cancel(consumerTag string) error {
	if !c.IsConnected() {
		return nil
	}
	if err := c.currentChannel().Cancel(consumerTag, false); err != nil {
		return fmt.Errorf("failed to cancel consumer: %w", err)
	}
	return nil
}

// Close stops any reconnect in progress, then closes the channel and the connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.cancel()
	c.connected.Store(false)

	c.connMu.RLock()
	channel, conn := c.channel, c.conn
	c.connMu.RUnlock()

	if channel != nil {
		if err := channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}

	var closeErr error
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			closeErr = fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
	}

	c.wg.Wait()
	return closeErr
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	if !c.connected.Load() {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}
