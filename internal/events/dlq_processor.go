package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// MaxReplays caps how often a dead letter goes back to the live topic.
const MaxReplays = 3

// DeadLetter is a parsed message from the dead letter topic.
type DeadLetter struct {
	Key         string
	Metadata    MessageMetadata
	FailureTime string
	Event       *NotificationEvent
	Partition   int32
	Offset      int64
}

func parseDeadLetter(message *sarama.ConsumerMessage) DeadLetter {
	dl := DeadLetter{
		Key:       string(message.Key),
		Partition: message.Partition,
		Offset:    message.Offset,
	}
	if raw, ok := header(message, "metadata"); ok {
		json.Unmarshal([]byte(raw), &dl.Metadata)
	}
	dl.FailureTime, _ = header(message, "failure_time")

	var event NotificationEvent
	if err := json.Unmarshal(message.Value, &event); err == nil {
		dl.Event = &event
	}
	return dl
}

// DLQMonitor reports dead-lettered notifications and, when replay is on,
// puts them back on the live topic for another round of retries.
type DLQMonitor struct {
	group    sarama.ConsumerGroup
	producer sarama.SyncProducer
	replay   bool
	delay    time.Duration
	logger   *logrus.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

type DLQOptions struct {
	Replay      bool
	ReplayDelay time.Duration
}

func NewDLQMonitor(brokers []string, groupID string, opts DLQOptions, logger *logrus.Logger) (*DLQMonitor, error) {
	group, err := newConsumerGroup(brokers, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ consumer: %w", err)
	}
	m := &DLQMonitor{group: group, replay: opts.Replay, delay: opts.ReplayDelay, logger: logger, sleep: sleepCtx}
	if opts.Replay {
		m.producer, err = sarama.NewSyncProducer(brokers, NewProducerConfig())
		if err != nil {
			group.Close()
			return nil, fmt.Errorf("failed to create producer: %w", err)
		}
	}
	return m, nil
}

func (m *DLQMonitor) Start(ctx context.Context) error {
	m.logger.WithFields(logrus.Fields{
		"topic":  NotificationsDLQTopic,
		"replay": m.replay,
	}).Info("DLQ monitor started")
	return consumeLoop(ctx, m.group, []string{NotificationsDLQTopic}, m, m.logger)
}

func (m *DLQMonitor) Close() error {
	if m.producer != nil {
		if err := m.producer.Close(); err != nil {
			m.logger.WithError(err).Error("Failed to close producer")
		}
	}
	return m.group.Close()
}

func (m *DLQMonitor) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (m *DLQMonitor) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (m *DLQMonitor) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := m.handle(session.Context(), message); err != nil {
				return nil
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handle reports one dead letter and optionally replays it. It returns an
// error only when ctx ended while waiting to replay.
func (m *DLQMonitor) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	dl := parseDeadLetter(message)
	fields := logrus.Fields{
		"partition":      dl.Partition,
		"offset":         dl.Offset,
		"key":            dl.Key,
		"original_topic": dl.Metadata.OriginalTopic,
		"retry_count":    dl.Metadata.RetryCount,
		"error_message":  dl.Metadata.ErrorMessage,
		"failure_time":   dl.FailureTime,
	}
	if dl.Event != nil {
		n := dl.Event.Notification
		fields["notification_id"] = n.ID
		fields["user_id"] = n.UserID
		fields["order_id"] = n.OrderID
		fields["notification_type"] = n.Type
	}
	m.logger.WithFields(fields).Warn("Dead-lettered notification")

	if !m.replay {
		return nil
	}
	if dl.Event == nil {
		m.logger.WithField("offset", dl.Offset).Error("Dead letter payload is not a notification event, not replaying")
		return nil
	}
	if m.delay > 0 {
		if err := m.sleep(ctx, m.delay); err != nil {
			return err
		}
	}
	if err := m.Replay(message, dl.Metadata); err != nil {
		m.logger.WithError(err).WithField("offset", dl.Offset).Error("Failed to replay DLQ message")
	}
	return nil
}

// Replay republishes the original payload with its retry count so the
// consumer can tell how often it has been around.
func (m *DLQMonitor) Replay(message *sarama.ConsumerMessage, metadata MessageMetadata) error {
	if metadata.RetryCount >= MaxReplays {
		return fmt.Errorf("exceeded maximum replay attempts (%d)", metadata.RetryCount)
	}
	topic := metadata.OriginalTopic
	if topic == "" {
		topic = NotificationsTopic
	}

	replay := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("retry_count"), Value: []byte(strconv.Itoa(metadata.RetryCount))},
			{Key: []byte("replayed_from_dlq"), Value: []byte("true")},
			{Key: []byte("replay_time"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}
	partition, offset, err := m.producer.SendMessage(replay)
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"replay_topic":     topic,
		"replay_partition": partition,
		"replay_offset":    offset,
		"key":              string(message.Key),
	}).Info("Message replayed from DLQ")
	return nil
}
