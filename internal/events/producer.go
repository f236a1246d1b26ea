package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/jogardn/poultry-market/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	NotificationsTopic    = "marketplace.notifications"
	NotificationsDLQTopic = "marketplace.notifications.dlq"
)

type NotificationEvent struct {
	Notification models.Notification `json:"notification"`
	EventTime    time.Time           `json:"event_time"`
}

// NewProducerConfig is the config every producer here uses: acknowledged by
// all in-sync replicas, retried, with successes returned for SyncProducer.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_6_0_0
	return config
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewKafkaProducer(brokers []string, logger *logrus.Logger) (*KafkaProducer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, err
	}
	return NewKafkaProducerWith(producer, logger), nil
}

// NewKafkaProducerWith wraps an existing SyncProducer.
func NewKafkaProducerWith(producer sarama.SyncProducer, logger *logrus.Logger) *KafkaProducer {
	return &KafkaProducer{producer: producer, logger: logger}
}

// PublishNotification keys the message by recipient so one user's
// notifications stay ordered within a partition.
func (p *KafkaProducer) PublishNotification(ctx context.Context, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(NotificationEvent{Notification: n, EventTime: time.Now().UTC()})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: NotificationsTopic,
		Key:   sarama.StringEncoder(n.UserID),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("notification_id", n.ID).Error("Failed to send message to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":           NotificationsTopic,
		"partition":       partition,
		"offset":          offset,
		"notification_id": n.ID,
		"order_id":        n.OrderID,
	}).Debug("Notification published to Kafka")
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
