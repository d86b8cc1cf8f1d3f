package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent(t models.DomainEventType) models.DomainEvent {
	return models.DomainEvent{
		ID:         "evt-1",
		Type:       t,
		BookingID:  "b-1",
		Reference:  "ST-ABCDEFGH",
		OccurredAt: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "payment-events" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "b-1" {
			return errors.New("unexpected key " + string(key))
		}
		value, _ := msg.Value.Encode()
		var event models.DomainEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.Type != models.EventPaymentSucceeded {
			return errors.New("unexpected event type")
		}
		return nil
	})

	publisher := NewKafkaPublisherWithProducer(producer, quietLogger())
	require.NoError(t, publisher.Publish(context.Background(), sampleEvent(models.EventPaymentSucceeded)))
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewKafkaPublisherWithProducer(producer, quietLogger())
	err := publisher.Publish(context.Background(), sampleEvent(models.EventBookingConfirmed))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisher_MockMode(t *testing.T) {
	publisher, err := NewKafkaPublisher(nil, true, quietLogger())
	require.NoError(t, err)
	assert.NoError(t, publisher.Publish(context.Background(), sampleEvent(models.EventBookingCreated)))
	assert.NoError(t, publisher.Close())
}

func TestTopicForEvent(t *testing.T) {
	assert.Equal(t, "booking-events", TopicForEvent(models.EventBookingConfirmed))
	assert.Equal(t, "payment-events", TopicForEvent(models.EventPaymentTimedOut))
}
