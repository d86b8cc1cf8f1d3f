package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
)

// KafkaPublisher publishes domain events to one topic per event family
type KafkaPublisher struct {
	producer sarama.SyncProducer
	mockMode bool
	logger   *logrus.Logger
}

// NewKafkaPublisher connects to brokers. In mock mode events are only logged.
func NewKafkaPublisher(brokers []string, mockMode bool, logger *logrus.Logger) (*KafkaPublisher, error) {
	if mockMode {
		logger.Info("Kafka publisher running in mock mode - no actual Kafka connection")
		return &KafkaPublisher{mockMode: true, logger: logger}, nil
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	logger.WithField("brokers", brokers).Info("Connected to Kafka brokers")
	return NewKafkaPublisherWithProducer(producer, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, logger *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, logger: logger}
}

// Publish sends event keyed by booking id so one booking's events stay ordered
func (p *KafkaPublisher) Publish(_ context.Context, event models.DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := TopicForEvent(event.Type)
	log := p.logger.WithFields(logrus.Fields{
		"topic":      topic,
		"event":      event.Type,
		"booking_id": event.BookingID,
	})

	if p.mockMode {
		log.WithField("data", string(data)).Debug("Mock publishing event")
		return nil
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.BookingID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
			{Key: []byte("event_id"), Value: []byte(event.ID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		log.WithError(err).Error("Failed to send event")
		return fmt.Errorf("failed to send message: %w", err)
	}

	log.WithFields(logrus.Fields{
		"partition": partition,
		"offset":    offset,
	}).Debug("Event published")
	return nil
}

// TopicForEvent maps an event type to its Kafka topic
func TopicForEvent(t models.DomainEventType) string {
	switch t.Family() {
	case "booking":
		return "booking-events"
	case "payment":
		return "payment-events"
	default:
		return "engine-events"
	}
}

// Close closes the producer
func (p *KafkaPublisher) Close() error {
	if p.mockMode || p.producer == nil {
		return nil
	}
	p.logger.Info("Closing Kafka producer connection")
	return p.producer.Close()
}
