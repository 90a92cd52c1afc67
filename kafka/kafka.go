package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"echoapp/logger"
	"echoapp/models"

	"github.com/segmentio/kafka-go"
)

// Config selects brokers and topics for the exchange stream.
type Config struct {
	Brokers  []string
	Topic    string
	DLQTopic string
	GroupID  string
}

// Producer publishes exchanges, keyed by connection so one connection's exchanges
// stay ordered within a partition.
type Producer struct {
	w   *kafka.Writer
	dlq *kafka.Writer
}

func NewProducer(cfg Config) *Producer {
	return &Producer{
		w:   newWriter(cfg.Brokers, cfg.Topic),
		dlq: newWriter(cfg.Brokers, cfg.DLQTopic),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func (p *Producer) Publish(ctx context.Context, ex models.Exchange) error {
	msg, err := encodeExchange(ex)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	logger.Debug("exchange published", logger.FieldKV("exchange_id", ex.ExchangeID), logger.FieldKV("topic", p.w.Topic))
	return nil
}

// DLQWriter forwards a raw payload to the dead-letter topic with the failure reason attached.
func (p *Producer) DLQWriter(ctx context.Context, key, value []byte, reason string) error {
	err := p.dlq.WriteMessages(ctx, kafka.Message{
		Key:     key,
		Value:   value,
		Headers: []kafka.Header{{Key: "reason", Value: []byte(reason)}},
	})
	if err != nil {
		return fmt.Errorf("kafka dlq write: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return errors.Join(p.w.Close(), p.dlq.Close())
}

// Handler persists one exchange read from the topic.
type Handler func(ctx context.Context, ex models.Exchange) error

// Consumer reads the exchange topic as part of a consumer group and hands each exchange
// to a Handler. Undecodable messages and handler failures go to the DLQ; the offset is
// committed either way so a poison message cannot wedge the group.
type Consumer struct {
	r   *kafka.Reader
	dlq func(ctx context.Context, key, value []byte, reason string) error
}

func NewConsumer(cfg Config, dlq *Producer) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{r: r, dlq: dlq.DLQWriter}
}

// Run blocks until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	logger.Info("starting kafka consumer", logger.FieldKV("topic", c.r.Config().Topic), logger.FieldKV("group", c.r.Config().GroupID))
	defer func() {
		if err := c.r.Close(); err != nil {
			logger.Error("failed to close kafka reader", err)
		}
	}()
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}
		logger.Debug("message read from kafka", logger.FieldKV("partition", m.Partition), logger.FieldKV("offset", m.Offset))
		c.process(ctx, m, handle)
		if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			logger.Error("kafka commit failed", err, logger.FieldKV("offset", m.Offset))
		}
	}
}

func (c *Consumer) process(ctx context.Context, m kafka.Message, handle Handler) {
	ex, err := decodeExchange(m)
	if err != nil {
		logger.Error("undecodable exchange", err, logger.FieldKV("offset", m.Offset))
		c.deadLetter(ctx, m, "decode_failure")
		return
	}
	if err := handle(ctx, ex); err != nil {
		logger.Error("persist exchange failed", err, logger.FieldKV("exchange_id", ex.ExchangeID))
		c.deadLetter(ctx, m, "persist_failure")
	}
}

func (c *Consumer) deadLetter(ctx context.Context, m kafka.Message, reason string) {
	if err := c.dlq(ctx, m.Key, m.Value, reason); err != nil {
		logger.Error("dlq write failed", err, logger.FieldKV("reason", reason))
	}
}

// Ping dials the first reachable broker and checks the topic has partitions. The ctx
// deadline bounds the metadata request as well as the dial.
func Ping(ctx context.Context, brokers []string, topic string) error {
	var lastErr error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		if dl, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(dl)
		}
		parts, err := conn.ReadPartitions(topic)
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if len(parts) == 0 {
			lastErr = fmt.Errorf("topic %s has no partitions", topic)
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no kafka brokers configured")
	}
	return lastErr
}

func encodeExchange(ex models.Exchange) (kafka.Message, error) {
	b, err := json.Marshal(ex)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal exchange: %w", err)
	}
	return kafka.Message{Key: []byte(ex.ConnectionID), Value: b, Time: ex.Timestamp}, nil
}

func decodeExchange(m kafka.Message) (models.Exchange, error) {
	var ex models.Exchange
	if err := json.Unmarshal(m.Value, &ex); err != nil {
		return ex, fmt.Errorf("unmarshal exchange: %w", err)
	}
	if ex.ExchangeID == "" {
		return ex, errors.New("exchange without id")
	}
	return ex, nil
}
