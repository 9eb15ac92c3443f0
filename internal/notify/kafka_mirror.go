package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaMirror copies every fanout event onto a Kafka topic so downstream
// consumers (analytics, audit) can replay the delivery event stream. Like
// the websocket path it is fire-and-forget: a failed write is logged, never
// surfaced to the engine.
type KafkaMirror struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaMirror(brokers []string, topic string, logger *slog.Logger) *KafkaMirror {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaMirror{writer: w, logger: logger}
}

func (k *KafkaMirror) write(key, event string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		k.logger.Warn("event marshal failed", "event", event, "error", err)
		return
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b}); err != nil {
		k.logger.Warn("kafka event write failed", "event", event, "error", err)
	}
}

func (k *KafkaMirror) Publish(channel, event string, payload any) {
	k.write(channel, event, payload)
}

func (k *KafkaMirror) Broadcast(event string, payload any) {
	k.write("broadcast", event, payload)
}

func (k *KafkaMirror) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Target is anything events can be fanned out to.
type Target interface {
	Broadcast(event string, payload any)
	Publish(channel, event string, payload any)
}

// Fanout groups several notifiers behind one publish call. Used to pair the
// websocket registry with the Kafka mirror.
type Fanout struct {
	targets []Target
}

func NewFanout(targets ...Target) *Fanout {
	return &Fanout{targets: targets}
}

func (f *Fanout) Broadcast(event string, payload any) {
	for _, t := range f.targets {
		t.Broadcast(event, payload)
	}
}

func (f *Fanout) Publish(channel, event string, payload any) {
	for _, t := range f.targets {
		t.Publish(channel, event, payload)
	}
}
