// Package eventsink forwards committed ledger events to external observers.
package eventsink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/segmentio/kafka-go"
)

// Record is one committed event as published.
type Record struct {
	Height     int64             `json:"height"`
	TxIndex    int               `json:"txIndex"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NewRecords flattens the events of one tx.
func NewRecords(height int64, txIndex int, evs []abci.Event) []Record {
	out := make([]Record, 0, len(evs))
	for _, ev := range evs {
		attrs := make(map[string]string, len(ev.Attributes))
		for _, a := range ev.Attributes {
			attrs[a.Key] = a.Value
		}
		out = append(out, Record{Height: height, TxIndex: txIndex, Type: ev.Type, Attributes: attrs})
	}
	return out
}

type Sink interface {
	Publish(ctx context.Context, recs []Record) error
	Close() error
}

type nop struct{}

func (nop) Publish(context.Context, []Record) error { return nil }
func (nop) Close() error                             { return nil }

// Nop drops everything.
func Nop() Sink {
	return nop{}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes records as JSON messages keyed by match id when present.
type Kafka struct {
	w     messageWriter
	topic string
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireOne,
		},
		topic: topic,
	}
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (k *Kafka) Publish(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(recs))
	now := time.Now()
	for _, r := range recs {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("eventsink: encode %s: %w", r.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(r.Attributes["matchId"]),
			Value:   b,
			Time:    now,
			Headers: []kafka.Header{{Key: "type", Value: []byte(r.Type)}},
		})
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("eventsink: write %d messages to %s: %w", len(msgs), k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
