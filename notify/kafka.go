package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/multierr"
)

type KafkaConfig struct {
	BootstrapServers string
	Topic            string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
}

func (c KafkaConfig) Complete() bool {
	return c.BootstrapServers != "" && c.Topic != ""
}

type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// Kafka publishes each sighting as a JSON record keyed by its event id.
type Kafka struct {
	cfg      KafkaConfig
	producer producer
}

// NewKafka connects a producer when the configuration is complete. An
// incomplete configuration yields a disabled channel.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	k := &Kafka{cfg: cfg}
	if !cfg.Complete() {
		return k, nil
	}

	conf := &kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"acks":               "all",
		"enable.idempotence": true,
		"request.timeout.ms": 30000,
	}
	if err := applySecurity(conf, cfg); err != nil {
		return nil, fmt.Errorf("kafka config: %w", err)
	}

	p, err := kafka.NewProducer(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	// delivery reports go to per message channels, drain everything else
	go func() {
		for range p.Events() {
		}
	}()
	k.producer = p
	return k, nil
}

// applySecurity copies the optional auth settings into conf.
func applySecurity(conf *kafka.ConfigMap, cfg KafkaConfig) error {
	var errs error
	set := func(key, value string) {
		errs = multierr.Append(errs, conf.SetKey(key, value))
	}
	if cfg.SecurityProtocol != "" {
		set("security.protocol", cfg.SecurityProtocol)
	}
	if cfg.SASLMechanism != "" {
		set("sasl.mechanism", cfg.SASLMechanism)
		set("sasl.username", cfg.SASLUsername)
		set("sasl.password", cfg.SASLPassword)
	}
	return errs
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Configured() bool { return k.cfg.Complete() && k.producer != nil }

func (k *Kafka) Send(ctx context.Context, s Sighting) error {
	if !k.Configured() {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to serialize sighting: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.cfg.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(s.EventID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "camera_id", Value: []byte(s.CameraID)},
		},
	}
	if err := k.producer.Produce(msg, delivery); err != nil {
		return fmt.Errorf("produce: %w", err)
	}

	select {
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event: %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Kafka) Close() {
	if k.producer == nil {
		return
	}
	k.producer.Flush(5000)
	k.producer.Close()
}
