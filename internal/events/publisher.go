// Package events publishes settled bets to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/atmx/settlement-engine/internal/fanout"
	"github.com/atmx/settlement-engine/internal/model"
)

// BetSettled is the published payload. It carries the public bet only: no
// server seed, even a revealed one.
type BetSettled struct {
	Type string    `json:"type"`
	Bet  model.Bet `json:"bet"`
}

// Publisher sends settled-bet events.
type Publisher interface {
	Publish(ctx context.Context, bet model.Bet) error
	Close()
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, model.Bet) error { return nil }
func (Nop) Close()                                  {}

// producer is the subset of *kgo.Client the publisher needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher produces one record per settled bet, keyed by user id so a
// user's bets stay ordered within a partition.
type KafkaPublisher struct {
	client producer
	topic  string
	log    *slog.Logger
}

// NewKafkaPublisher connects to brokers and produces to topic. opts are
// appended to the client options.
func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger, opts ...kgo.Opt) (*KafkaPublisher, error) {
	cli, err := kgo.NewClient(append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return newKafkaPublisher(cli, topic, log), nil
}

func newKafkaPublisher(p producer, topic string, log *slog.Logger) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaPublisher{client: p, topic: topic, log: log}
}

// Publish blocks until the broker acknowledges the record or ctx is done.
// The fan-out task timeout bounds delivery, and a failed delivery fails
// the task.
func (p *KafkaPublisher) Publish(ctx context.Context, bet model.Bet) error {
	value, err := json.Marshal(BetSettled{Type: "bet_settled", Bet: bet.Public()})
	if err != nil {
		return fmt.Errorf("encode bet %s: %w", bet.ID, err)
	}

	rec := &kgo.Record{
		Key:   []byte(bet.UserID),
		Value: value,
		Topic: p.topic,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		p.log.Error("failed to produce bet event", "bet_id", bet.ID, "topic", p.topic, "err", err)
		return fmt.Errorf("produce bet %s: %w", bet.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// Task wraps publishing bet as a fan-out task.
func Task(pub Publisher, bet model.Bet) fanout.Task {
	return fanout.Task{
		Name:   "events.publish",
		BetID:  bet.ID,
		UserID: bet.UserID,
		Run:    func(ctx context.Context) error { return pub.Publish(ctx, bet) },
	}
}
