package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const defaultDeliveryTimeout = 5 * time.Second

// KafkaPublisher produces events to a single topic.
type KafkaPublisher struct {
	client          *kgo.Client
	topic           string
	logger          *slog.Logger
	deliveryTimeout time.Duration
}

// Option configures a KafkaPublisher.
type Option func(*KafkaPublisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *KafkaPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDeliveryTimeout bounds how long Publish waits for a broker ack,
// including time spent buffered while no broker is reachable.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(p *KafkaPublisher) {
		if d > 0 {
			p.deliveryTimeout = d
		}
	}
}

// NewKafkaPublisher connects to brokers. The connection is established lazily
// by the client; EnsureTopic forces a round trip.
func NewKafkaPublisher(brokers []string, topic string, opts ...Option) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	p := &KafkaPublisher{
		topic:           topic,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		deliveryTimeout: defaultDeliveryTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.RecordDeliveryTimeout(p.deliveryTimeout),
		kgo.ProduceRequestTimeout(p.deliveryTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	p.client = client
	return p, nil
}

// EnsureTopic creates the topic if it does not exist.
func (p *KafkaPublisher) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(p.client)
	_, err := adm.CreateTopic(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	return nil
}

// Publish produces evt synchronously and returns the broker error, if any.
// It gives up after the delivery timeout.
func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	rec := &kgo.Record{
		Key:   []byte(evt.Hash),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(evt.Type)},
		},
	}
	ctx, cancel := context.WithTimeout(ctx, p.deliveryTimeout)
	defer cancel()
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce %s event: %w", evt.Type, err)
	}
	p.logger.DebugContext(ctx, "verification event published",
		"type", string(evt.Type),
		"hash", evt.Hash,
		"topic", p.topic,
	)
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
