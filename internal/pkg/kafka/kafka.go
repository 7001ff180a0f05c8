// Package kafka publishes JSON events to Kafka topics. An empty broker list
// disables publishing; callers get ErrDisabled and carry on.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

var ErrDisabled = errors.New("kafka disabled")

type Client struct {
	Brokers []string
}

func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes keyed JSON messages to a single topic. A nil or disabled
// Publisher returns ErrDisabled from Publish.
type Publisher struct {
	writer MessageWriter
	topic  string
}

// NewPublisher returns a Publisher for topic, or a disabled one when the
// client has no brokers.
func NewPublisher(c *Client, topic string) *Publisher {
	if c == nil || !c.Enabled() {
		return &Publisher{topic: topic}
	}
	return &Publisher{writer: c.NewWriter(topic), topic: topic}
}

func NewPublisherWithWriter(w MessageWriter, topic string) *Publisher {
	return &Publisher{writer: w, topic: topic}
}

func (p *Publisher) Enabled() bool {
	return p != nil && p.writer != nil
}

func (p *Publisher) Publish(ctx context.Context, key string, payload any) error {
	if !p.Enabled() {
		return ErrDisabled
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kafka: encode %s event: %w", p.topic, err)
	}
	msg := kafka.Message{Key: []byte(key), Value: data, Time: time.Now().UTC()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.writer.Close()
}
