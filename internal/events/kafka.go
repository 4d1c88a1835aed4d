package events

import (
	"fmt"

	"stayledger/internal/config"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// NewSyncProducer builds an acks=all producer for cfg.Brokers.
func NewSyncProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Version = sarama.V2_1_0_0
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Producer.Return.Successes = true
	sc.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaForwarder copies every bus event to a Kafka topic.
type KafkaForwarder struct {
	producer sarama.SyncProducer
	topic    string
	logger   zerolog.Logger
}

func NewKafkaForwarder(producer sarama.SyncProducer, topic string, logger *zerolog.Logger) *KafkaForwarder {
	return &KafkaForwarder{
		producer: producer,
		topic:    topic,
		logger:   logger.With().Str("component", "kafka_forwarder").Logger(),
	}
}

// Attach subscribes the forwarder to all events on bus.
func (f *KafkaForwarder) Attach(bus *EventBus) {
	bus.Subscribe(AllEvents, f.Handle)
}

// Handle sends one event. Failures are logged and returned, never retried.
func (f *KafkaForwarder) Handle(event *Event) error {
	msg := &sarama.ProducerMessage{
		Topic: f.topic,
		Value: sarama.ByteEncoder(event.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
		Timestamp: event.CreatedAt,
	}
	if event.Key != "" {
		msg.Key = sarama.StringEncoder(event.Key)
	}

	partition, offset, err := f.producer.SendMessage(msg)
	if err != nil {
		f.logger.Error().Err(err).Str("event_type", event.Type).Msg("Failed to forward event to kafka")
		return err
	}
	f.logger.Debug().
		Str("event_type", event.Type).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("Event forwarded")
	return nil
}

func (f *KafkaForwarder) Close() error {
	if f.producer == nil {
		return nil
	}
	return f.producer.Close()
}
