// Package kafka publishes outbox messages to Kafka topics.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/multierr"

	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/outbox"
	"github.com/safmarket/saf-backend/pkg/outbox/registry"
)

const defaultWriteTimeout = 10 * time.Second

var errNoBrokers = errors.New("kafka brokers are required")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type dialFunc func(ctx context.Context, network, address string) (*kafkago.Conn, error)

// Publisher writes messages keyed by aggregate id, so events of one order
// land on the same partition in order.
type Publisher struct {
	writer  messageWriter
	brokers []string
	topics  []string
	dial    dialFunc
	now     func() time.Time
}

func NewPublisher(cfg config.KafkaConfig, logg *logger.Logger) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		WriteTimeout:           timeout,
		AllowAutoTopicCreation: false,
	}
	p := &Publisher{
		writer:  writer,
		brokers: brokers,
		dial:    kafkago.DialContext,
		now:     time.Now,
	}
	if topic := strings.TrimSpace(cfg.OrdersTopic); topic != "" {
		p.topics = append(p.topics, topic)
	}
	if logg != nil {
		logg.Info(logg.WithField(context.Background(), "brokers", strings.Join(brokers, ",")), "kafka publisher initialized")
	}
	return p, nil
}

func (p *Publisher) Publish(ctx context.Context, msg outbox.Message) error {
	if strings.TrimSpace(msg.Topic) == "" {
		return registry.NewNonRetryableError(errors.New("kafka topic is required"))
	}
	err := p.writer.WriteMessages(ctx, kafkago.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Data,
		Headers: headers(msg.Attributes),
		Time:    p.now().UTC(),
	})
	if err == nil {
		return nil
	}
	if isPermanent(err) {
		return registry.NewNonRetryableError(err)
	}
	return fmt.Errorf("kafka write: %w", err)
}

// Ping dials the first reachable broker and checks the configured topics
// have partitions.
func (p *Publisher) Ping(ctx context.Context) error {
	var dialErr error
	for _, broker := range p.brokers {
		conn, err := p.dial(ctx, "tcp", broker)
		if err != nil {
			dialErr = multierr.Append(dialErr, fmt.Errorf("%s: %w", broker, err))
			continue
		}
		defer conn.Close()
		if len(p.topics) == 0 {
			return nil
		}
		partitions, err := conn.ReadPartitions(p.topics...)
		if err != nil {
			return fmt.Errorf("read partitions: %w", err)
		}
		if len(partitions) == 0 {
			return fmt.Errorf("topics %v have no partitions", p.topics)
		}
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", dialErr)
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func headers(attrs map[string]string) []kafkago.Header {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kafkago.Header, 0, len(keys))
	for _, k := range keys {
		out = append(out, kafkago.Header{Key: k, Value: []byte(attrs[k])})
	}
	return out
}

func isPermanent(err error) bool {
	var kerr kafkago.Error
	if errors.As(err, &kerr) {
		return !kerr.Temporary()
	}
	var writeErrs kafkago.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil && !isPermanent(e) {
				return false
			}
		}
		return writeErrs.Count() > 0
	}
	return false
}
