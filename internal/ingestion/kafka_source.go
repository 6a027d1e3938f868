package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/logging"
	"pumpfun-candles/internal/observability"
	"pumpfun-candles/internal/pumpfun"
)

// KafkaMessage is the JSON payload of a trade feed message.
// Type "trade" carries amounts; type "create" carries metadata.
type KafkaMessage struct {
	Type        string `json:"type"`
	Mint        string `json:"mint"`
	SolAmount   uint64 `json:"sol_amount,omitempty"`   // lamports
	TokenAmount uint64 `json:"token_amount,omitempty"` // raw, 6 decimals
	IsBuy       bool   `json:"is_buy,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"` // unix seconds
	Signature   string `json:"signature,omitempty"`
	Name        string `json:"name,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	URI         string `json:"uri,omitempty"`
}

// Event converts the message to an upstream event.
func (m KafkaMessage) Event() (Event, error) {
	if m.Mint == "" {
		return Event{}, errors.New("message without mint")
	}
	switch m.Type {
	case "trade", "":
		ev := pumpfun.TradeEvent{
			Mint:        m.Mint,
			SolAmount:   m.SolAmount,
			TokenAmount: m.TokenAmount,
			IsBuy:       m.IsBuy,
			Timestamp:   m.Timestamp,
		}
		trade := ev.ToTrade(m.Signature)
		return Event{Trade: &trade}, nil
	case "create":
		return Event{Token: &TokenEvent{
			Mint:     m.Mint,
			Metadata: domain.TokenMetadata{Name: m.Name, Symbol: m.Symbol, URI: m.URI},
		}}, nil
	default:
		return Event{}, fmt.Errorf("unknown message type %q", m.Type)
	}
}

// messageReader is the subset of *kafka.Reader used by KafkaSource.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ messageReader = (*kafka.Reader)(nil)

// KafkaSourceOptions configures a KafkaSource.
type KafkaSourceOptions struct {
	Brokers    []string
	Topic      string
	GroupID    string
	BufferSize int // Default: 1024
	Logger     logrus.FieldLogger
}

// KafkaSource consumes JSON trade messages from a Kafka topic.
// Offsets are committed once the decoded event is handed to the runner.
type KafkaSource struct {
	reader     messageReader
	topic      string
	buffer     int
	errBackoff time.Duration
	logger     logrus.FieldLogger
}

var _ Source = (*KafkaSource)(nil)

// NewKafkaSource creates a consumer-group reader for the topic.
func NewKafkaSource(opts KafkaSourceOptions) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  opts.Brokers,
		Topic:    opts.Topic,
		GroupID:  opts.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return newKafkaSource(reader, opts)
}

func newKafkaSource(reader messageReader, opts KafkaSourceOptions) *KafkaSource {
	buffer := opts.BufferSize
	if buffer <= 0 {
		buffer = 1024
	}
	return &KafkaSource{
		reader:     reader,
		topic:      opts.Topic,
		buffer:     buffer,
		errBackoff: time.Second,
		logger:     logging.Component(opts.Logger, "kafka-source").WithField("topic", opts.Topic),
	}
}

// Name implements Source.
func (s *KafkaSource) Name() string { return "kafka" }

// Subscribe starts fetching messages. The channel closes when ctx is done.
func (s *KafkaSource) Subscribe(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, s.buffer)
	go s.readMessages(ctx, out)
	return out, nil
}

func (s *KafkaSource) readMessages(ctx context.Context, out chan<- Event) {
	defer close(out)

	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Error("error fetching message")
			select {
			case <-time.After(s.errBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}

		var msg KafkaMessage
		ev, err := decodeKafkaMessage(m.Value, &msg)
		if err != nil {
			s.logger.WithError(err).WithField("offset", m.Offset).Warn("skipping malformed message")
		} else {
			observability.RecordEventReceived(s.Name(), kindOf(ev))
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		if err := s.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).WithField("offset", m.Offset).Error("error committing message")
		}
	}
}

// Close closes the underlying reader.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

func decodeKafkaMessage(value []byte, msg *KafkaMessage) (Event, error) {
	if err := json.Unmarshal(value, msg); err != nil {
		return Event{}, fmt.Errorf("decode message: %w", err)
	}
	return msg.Event()
}

func kindOf(ev Event) string {
	if ev.Token != nil {
		return "create"
	}
	return "trade"
}
