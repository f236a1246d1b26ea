package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func sampleNotification() models.Notification {
	return models.Notification{
		ID:        "n-1",
		UserID:    "seller-1",
		Type:      models.NotifyOrderCreated,
		Title:     "New order received",
		Message:   "Order #abcd1234 includes 3 unit(s) of your products.",
		OrderID:   "abcd1234-0000",
		CreatedAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func eventMessage(t *testing.T, n models.Notification) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(NotificationEvent{Notification: n, EventTime: n.CreatedAt})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{
		Topic:     NotificationsTopic,
		Partition: 2,
		Offset:    41,
		Key:       []byte(n.UserID),
		Value:     data,
	}
}

func TestPublishNotification(t *testing.T) {
	mock := mocks.NewSyncProducer(t, NewProducerConfig())
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != NotificationsTopic {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "seller-1" {
			return fmt.Errorf("expected recipient key, got %s", key)
		}
		value, _ := msg.Value.Encode()
		var event NotificationEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.Notification.ID != "n-1" || event.EventTime.IsZero() {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaProducerWith(mock, quietLogger())
	require.NoError(t, p.PublishNotification(context.Background(), sampleNotification()))
	assert.ErrorIs(t, p.PublishNotification(context.Background(), sampleNotification()), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

type flakyHandler struct {
	failures int
	err      error
	calls    int
	got      []models.Notification
}

func (h *flakyHandler) HandleNotification(_ context.Context, n models.Notification) error {
	h.calls++
	if h.calls <= h.failures {
		return h.err
	}
	h.got = append(h.got, n)
	return nil
}

func newTestConsumer(t *testing.T, handler NotificationHandler, policy RetryPolicy) (*Consumer, *mocks.SyncProducer, *[]time.Duration) {
	t.Helper()
	dlq := mocks.NewSyncProducer(t, NewProducerConfig())
	c := newConsumer(dlq, handler, policy, quietLogger())
	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return c, dlq, &delays
}

func TestConsumerRetriesWithBackoff(t *testing.T) {
	handler := &flakyHandler{failures: 3, err: errors.New("connection refused")}
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 3 * time.Second}
	c, dlq, delays := newTestConsumer(t, handler, policy)

	require.NoError(t, c.process(context.Background(), eventMessage(t, sampleNotification())))
	require.NoError(t, dlq.Close())

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, *delays)
	require.Len(t, handler.got, 1)
	assert.Equal(t, "n-1", handler.got[0].ID)
	assert.Equal(t, ConsumerMetrics{Processed: 1, Succeeded: 1, Retried: 3}, c.Metrics())
}

func TestConsumerDeadLettersAfterRetries(t *testing.T) {
	handler := &flakyHandler{failures: 100, err: errors.New("connection refused")}
	c, dlq, _ := newTestConsumer(t, handler, RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})

	dlq.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != NotificationsDLQTopic {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		if headers["original_topic"] != NotificationsTopic || headers["original_offset"] != "41" || headers["original_partition"] != "2" {
			return fmt.Errorf("unexpected headers %v", headers)
		}
		var md MessageMetadata
		if err := json.Unmarshal([]byte(headers["metadata"]), &md); err != nil {
			return err
		}
		if md.RetryCount != 1 || md.ErrorMessage == "" {
			return fmt.Errorf("unexpected metadata %+v", md)
		}
		return nil
	})

	require.NoError(t, c.process(context.Background(), eventMessage(t, sampleNotification())))
	require.NoError(t, dlq.Close())

	assert.Equal(t, 3, handler.calls)
	assert.Equal(t, ConsumerMetrics{Processed: 1, Retried: 2, Failed: 1, DeadLettered: 1}, c.Metrics())
}

func TestConsumerMalformedGoesStraightToDLQ(t *testing.T) {
	handler := &flakyHandler{}
	c, dlq, delays := newTestConsumer(t, handler, DefaultRetryPolicy())
	dlq.ExpectSendMessageAndSucceed()

	msg := &sarama.ConsumerMessage{Topic: NotificationsTopic, Value: []byte("{not json")}
	require.NoError(t, c.process(context.Background(), msg))
	require.NoError(t, dlq.Close())

	assert.Zero(t, handler.calls)
	assert.Empty(t, *delays)
	assert.Equal(t, int64(1), c.Metrics().DeadLettered)
}

func TestConsumerNonRetryableError(t *testing.T) {
	permanent := errors.New("recipient unknown")
	handler := &flakyHandler{failures: 100, err: permanent}
	policy := DefaultRetryPolicy()
	policy.IsRetryable = func(err error) bool { return !errors.Is(err, permanent) }
	c, dlq, _ := newTestConsumer(t, handler, policy)
	dlq.ExpectSendMessageAndSucceed()

	require.NoError(t, c.process(context.Background(), eventMessage(t, sampleNotification())))
	require.NoError(t, dlq.Close())
	assert.Equal(t, 1, handler.calls)
}

func TestConsumerStopsRetryingOnShutdown(t *testing.T) {
	handler := &flakyHandler{failures: 100, err: errors.New("connection refused")}
	c, dlq, _ := newTestConsumer(t, handler, DefaultRetryPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.process(ctx, eventMessage(t, sampleNotification())), context.Canceled)
	require.NoError(t, dlq.Close(), "nothing should be dead-lettered on shutdown")
	assert.Zero(t, c.Metrics().DeadLettered)
}

func TestRetryCountHeader(t *testing.T) {
	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte("retry_count"), Value: []byte("2")}}}
	assert.Equal(t, 2, retryCount(msg))
	assert.Equal(t, 0, retryCount(&sarama.ConsumerMessage{}))
	bad := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte("retry_count"), Value: []byte("x")}}}
	assert.Equal(t, 0, retryCount(bad))
}

func deadLetterMessage(t *testing.T, retries int) *sarama.ConsumerMessage {
	t.Helper()
	msg := eventMessage(t, sampleNotification())
	msg.Topic = NotificationsDLQTopic
	md, err := json.Marshal(MessageMetadata{RetryCount: retries, OriginalTopic: NotificationsTopic, ErrorMessage: "connection refused"})
	require.NoError(t, err)
	msg.Headers = []*sarama.RecordHeader{
		{Key: []byte("metadata"), Value: md},
		{Key: []byte("failure_time"), Value: []byte("2024-05-01T08:00:05Z")},
	}
	return msg
}

func TestParseDeadLetter(t *testing.T) {
	dl := parseDeadLetter(deadLetterMessage(t, 1))
	assert.Equal(t, "seller-1", dl.Key)
	assert.Equal(t, 1, dl.Metadata.RetryCount)
	assert.Equal(t, "connection refused", dl.Metadata.ErrorMessage)
	assert.Equal(t, "2024-05-01T08:00:05Z", dl.FailureTime)
	require.NotNil(t, dl.Event)
	assert.Equal(t, "n-1", dl.Event.Notification.ID)

	garbage := parseDeadLetter(&sarama.ConsumerMessage{Value: []byte("??")})
	assert.Nil(t, garbage.Event)
}

func TestDLQMonitorReplay(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != NotificationsTopic {
			return fmt.Errorf("replayed to %s", msg.Topic)
		}
		for _, h := range msg.Headers {
			if string(h.Key) == "retry_count" && string(h.Value) == "1" {
				return nil
			}
		}
		return fmt.Errorf("retry_count header missing")
	})

	m := &DLQMonitor{producer: producer, replay: true, logger: quietLogger(), sleep: sleepCtx}
	require.NoError(t, m.handle(context.Background(), deadLetterMessage(t, 1)))

	// Exhausted messages stay parked.
	require.NoError(t, m.handle(context.Background(), deadLetterMessage(t, MaxReplays)))
	require.NoError(t, producer.Close())
}
