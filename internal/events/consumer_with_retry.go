package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/sirupsen/logrus"
)

// NotificationHandler processes one notification taken off the topic.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n models.Notification) error
}

type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// IsRetryable decides whether a handler error is worth another attempt.
	// Nil treats every error as retryable.
	IsRetryable func(err error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

func (p RetryPolicy) retryable(err error) bool {
	if p.IsRetryable == nil {
		return true
	}
	return p.IsRetryable(err)
}

type MessageMetadata struct {
	RetryCount    int       `json:"retry_count"`
	FirstFailure  time.Time `json:"first_failure"`
	LastFailure   time.Time `json:"last_failure"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

type ConsumerMetrics struct {
	Processed    int64 `json:"processed"`
	Succeeded    int64 `json:"succeeded"`
	Retried      int64 `json:"retried"`
	Failed       int64 `json:"failed"`
	DeadLettered int64 `json:"dead_lettered"`
}

type consumerCounters struct {
	processed, succeeded, retried, failed, deadLettered atomic.Int64
}

var errMalformed = errors.New("malformed notification event")

// Consumer reads notification events, hands them to a handler with
// exponential backoff, and parks what still fails on the dead letter topic.
type Consumer struct {
	group    sarama.ConsumerGroup
	dlq      sarama.SyncProducer
	handler  NotificationHandler
	policy   RetryPolicy
	logger   *logrus.Logger
	counters consumerCounters
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewConsumer(brokers []string, groupID string, handler NotificationHandler, policy RetryPolicy, logger *logrus.Logger) (*Consumer, error) {
	group, err := newConsumerGroup(brokers, groupID)
	if err != nil {
		return nil, err
	}
	dlq, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		group.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}
	c := newConsumer(dlq, handler, policy, logger)
	c.group = group
	return c, nil
}

func newConsumer(dlq sarama.SyncProducer, handler NotificationHandler, policy RetryPolicy, logger *logrus.Logger) *Consumer {
	return &Consumer{
		dlq:     dlq,
		handler: handler,
		policy:  policy,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	c.logger.WithField("topic", NotificationsTopic).Info("Notification consumer started")
	return consumeLoop(ctx, c.group, []string{NotificationsTopic}, c, c.logger)
}

func (c *Consumer) Close() error {
	if err := c.dlq.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close DLQ producer")
	}
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

func (c *Consumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		Processed:    c.counters.processed.Load(),
		Succeeded:    c.counters.succeeded.Load(),
		Retried:      c.counters.retried.Load(),
		Failed:       c.counters.failed.Load(),
		DeadLettered: c.counters.deadLettered.Load(),
	}
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Kafka consumer group session setup")
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.process(session.Context(), message); err != nil {
				// Shutting down mid-retry; leave the offset so the message is redelivered.
				return nil
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process handles one message. It only returns an error when ctx ended
// before the message reached a final outcome.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	c.counters.processed.Add(1)

	err := c.handleWithRetry(ctx, message)
	if err == nil {
		c.counters.succeeded.Add(1)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.counters.failed.Add(1)
	c.logger.WithError(err).WithFields(logrus.Fields{
		"partition": message.Partition,
		"offset":    message.Offset,
	}).Error("Failed to process notification")

	if dlqErr := c.sendToDLQ(message, err); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		return nil
	}
	c.counters.deadLettered.Add(1)
	return nil
}

func (c *Consumer) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	var event NotificationEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	n := event.Notification
	if n.ID == "" || n.UserID == "" {
		return fmt.Errorf("%w: missing id or recipient", errMalformed)
	}

	delay := c.policy.InitialDelay
	var err error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"notification_id": n.ID,
				"attempt":         attempt,
				"delay":           delay.String(),
			}).Info("Retrying notification")
			if serr := c.sleep(ctx, delay); serr != nil {
				return serr
			}
			c.counters.retried.Add(1)
			delay = min(delay*2, c.policy.MaxDelay)
		}

		if err = c.handler.HandleNotification(ctx, n); err == nil {
			return nil
		}
		if !c.policy.retryable(err) {
			return err
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"notification_id": n.ID,
			"attempt":         attempt + 1,
		}).Warn("Retryable error handling notification")
	}
	return fmt.Errorf("exhausted retries for notification %s: %w", n.ID, err)
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, cause error) error {
	now := time.Now().UTC()
	metadata := MessageMetadata{
		RetryCount:    retryCount(message) + 1,
		FirstFailure:  now,
		LastFailure:   now,
		OriginalTopic: message.Topic,
		ErrorMessage:  cause.Error(),
	}
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dlqMessage := &sarama.ProducerMessage{
		Topic: NotificationsDLQTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadataBytes},
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(message.Partition)))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(message.Offset, 10))},
			{Key: []byte("failure_time"), Value: []byte(now.Format(time.RFC3339))},
		},
	}
	partition, offset, err := c.dlq.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"dlq_topic":     NotificationsDLQTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"error":         cause.Error(),
	}).Warn("Message sent to dead letter queue")
	return nil
}
