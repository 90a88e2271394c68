// Package events publishes payment status changes to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mitantsoa1/gns-preprod/models"
	awspkg "github.com/mitantsoa1/gns-preprod/pkg/aws"
)

// SNSPaymentPublisher publishes payment events to an SNS topic with an
// event_type attribute for subscription filtering.
type SNSPaymentPublisher struct {
	sns      awspkg.SNSPublisher
	topicArn string
	logger   *zap.Logger
}

func NewSNSPaymentPublisher(sns awspkg.SNSPublisher, topicArn string, logger *zap.Logger) *SNSPaymentPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SNSPaymentPublisher{sns: sns, topicArn: topicArn, logger: logger}
}

func (p *SNSPaymentPublisher) PublishPaymentEvent(ctx context.Context, evt models.PaymentEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}
	attrs := map[string]string{"event_type": evt.Type}
	if err := p.sns.Publish(ctx, p.topicArn, data, attrs); err != nil {
		return err
	}
	p.logger.Info("payment event published",
		zap.String("payment_id", evt.PaymentID),
		zap.String("type", evt.Type),
		zap.String("topic_arn", p.topicArn))
	return nil
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPaymentPublisher writes payment events keyed by payment id, so all
// events of one payment land on the same partition.
type KafkaPaymentPublisher struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

func NewKafkaPaymentPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPaymentPublisher {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return NewKafkaPaymentPublisherWithWriter(w, topic, logger)
}

func NewKafkaPaymentPublisherWithWriter(w MessageWriter, topic string, logger *zap.Logger) *KafkaPaymentPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("kafka payment publisher initialized", zap.String("topic", topic))
	return &KafkaPaymentPublisher{writer: w, topic: topic, logger: logger}
}

func (p *KafkaPaymentPublisher) PublishPaymentEvent(ctx context.Context, evt models.PaymentEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}
	msg := kafka.Message{
		Key:     []byte(evt.PaymentID),
		Value:   data,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(evt.Type)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", p.topic, err)
	}
	p.logger.Info("payment event published",
		zap.String("payment_id", evt.PaymentID),
		zap.String("type", evt.Type),
		zap.String("topic", p.topic))
	return nil
}

func (p *KafkaPaymentPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) PublishPaymentEvent(context.Context, models.PaymentEvent) error { return nil }
