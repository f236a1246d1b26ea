package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

func newConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0
	return config
}

func newConsumerGroup(brokers []string, groupID string) (sarama.ConsumerGroup, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, newConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group %s: %w", groupID, err)
	}
	return group, nil
}

// consumeLoop rejoins the group after every rebalance until ctx is done.
func consumeLoop(ctx context.Context, group sarama.ConsumerGroup, topics []string, handler sarama.ConsumerGroupHandler, logger *logrus.Logger) error {
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.WithError(err).WithField("topics", topics).Error("Error consuming from Kafka")
			return err
		}
		if ctx.Err() != nil {
			logger.WithField("topics", topics).Info("Kafka consumer context cancelled")
			return nil
		}
	}
}

func header(msg *sarama.ConsumerMessage, key string) (string, bool) {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// retryCount reads the retry_count header set when a message is replayed.
func retryCount(msg *sarama.ConsumerMessage) int {
	v, ok := header(msg, "retry_count")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
