// Package bus carries push events between the api service (which persists and
// publishes) and the consumers that fan them out: the gateway (live push) and
// the messaging service (conversation index).
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/baithak/sandesh/pkg/model"
)

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, ev model.Event) error {
	val, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Key by receiver so events for one user stay ordered within a partition.
	var key []byte
	if ev.Message != nil {
		key = []byte(ev.Message.ReceiverID)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: val,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

type Consumer struct {
	reader *kafka.Reader
	log    *slog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})
	return &Consumer{reader: r, log: log}
}

// Run reads events until ctx is cancelled. Undecodable payloads are logged
// and dropped; they must never stop the loop.
func (c *Consumer) Run(ctx context.Context, handle func(model.Event)) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("read event", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var ev model.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.log.Warn("dropping malformed event", "error", err)
			continue
		}
		handle(ev)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
