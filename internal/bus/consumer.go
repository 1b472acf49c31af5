package bus

import (
	"context"
	"log/slog"
	"time"

	"newsreel/internal/config"
	"newsreel/internal/logging"
)

// Handler processes a single delivered event. A nil return commits the
// offset; an error triggers the retry policy.
type Handler func(ctx context.Context, event Event) error

// DeadLetterHook observes events parked after delivery retries were
// exhausted. The workflow uses it to fail the underlying work item.
type DeadLetterHook func(ctx context.Context, event Event, deliveryErr error)

// RetryPolicy controls in-consumer redelivery before an event is parked.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// PolicyFromConfig builds the retry policy from bus configuration.
func PolicyFromConfig(cfg config.Bus) RetryPolicy {
	return RetryPolicy{
		Attempts:   cfg.DeliveryAttempts,
		Backoff:    time.Duration(cfg.RetryBackoffSeconds) * time.Second,
		MaxBackoff: time.Duration(cfg.RetryBackoffMaxMins) * time.Minute,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Backoff <= 0 {
		p.Backoff = 30 * time.Second
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	return p
}

// BackoffFor returns the delay before the given retry attempt (1-based),
// doubling from the base and capped at MaxBackoff.
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	delay := p.Backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// Consumer drives a single (group, topic) subscription. Events are delivered
// one at a time in log order; a redelivery in progress blocks the topic for
// this group, which preserves per-item ordering.
type Consumer struct {
	bus     *Bus
	group   string
	topic   string
	handler Handler
	policy  RetryPolicy
	poll    time.Duration
	batch   int
	logger  *slog.Logger
	onDead  DeadLetterHook
}

// ConsumerOption customizes a consumer.
type ConsumerOption func(*Consumer)

// WithLogger sets the consumer's logger.
func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPolicy overrides the delivery retry policy.
func WithPolicy(policy RetryPolicy) ConsumerOption {
	return func(c *Consumer) {
		c.policy = policy.normalized()
	}
}

// WithPollInterval overrides how often the consumer polls for new events.
func WithPollInterval(interval time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if interval > 0 {
			c.poll = interval
		}
	}
}

// WithDeadLetterHook registers a hook invoked after an event is parked.
func WithDeadLetterHook(hook DeadLetterHook) ConsumerOption {
	return func(c *Consumer) {
		c.onDead = hook
	}
}

// WithBatchSize limits how many events a single poll drains.
func WithBatchSize(size int) ConsumerOption {
	return func(c *Consumer) {
		if size > 0 {
			c.batch = size
		}
	}
}

// NewConsumer constructs a consumer for one (group, topic) subscription.
func NewConsumer(b *Bus, group, topic string, handler Handler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		bus:     b,
		group:   group,
		topic:   topic,
		handler: handler,
		policy:  RetryPolicy{}.normalized(),
		poll:    2 * time.Second,
		batch:   10,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls the log until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		if err := c.Drain(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("drain failed",
				logging.String(logging.FieldTopic, c.topic),
				logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain processes every pending event for this subscription. Exposed so tests
// and the workflow can pump the log without waiting on the poll ticker.
func (c *Consumer) Drain(ctx context.Context) error {
	for {
		events, err := c.bus.NextEvents(ctx, c.group, c.topic, c.batch)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, event := range events {
			if err := c.process(ctx, event); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, event Event) error {
	deliveryErr := c.deliver(ctx, event)
	if deliveryErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("delivery retries exhausted, parking event",
			logging.String(logging.FieldTopic, event.Topic),
			logging.String(logging.FieldItemID, event.ItemID),
			logging.Int("attempts", c.policy.Attempts),
			logging.Error(deliveryErr))
		if _, err := c.bus.ParkDeadLetter(ctx, event, c.group, c.policy.Attempts, deliveryErr); err != nil {
			return err
		}
		if c.onDead != nil {
			c.onDead(ctx, event, deliveryErr)
		}
	}
	// The offset advances even for parked events so a poison message cannot
	// wedge the topic.
	return c.bus.Commit(ctx, c.group, c.topic, event.ID)
}

func (c *Consumer) deliver(ctx context.Context, event Event) error {
	var lastErr error
	for attempt := 1; attempt <= c.policy.Attempts; attempt++ {
		lastErr = c.handler(ctx, event)
		if lastErr == nil {
			return nil
		}
		if attempt == c.policy.Attempts {
			break
		}
		c.logger.Warn("delivery failed, backing off",
			logging.String(logging.FieldTopic, event.Topic),
			logging.String(logging.FieldItemID, event.ItemID),
			logging.Int("attempt", attempt),
			logging.Error(lastErr))
		select {
		case <-time.After(c.policy.BackoffFor(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
