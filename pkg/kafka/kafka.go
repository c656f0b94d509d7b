package kafka

import (
	"context"
	"time"

	k "github.com/segmentio/kafka-go"
)

type Writer struct {
	w *k.Writer
}

func NewWriter(bootstrap, topic string) *Writer {
	return &Writer{w: &k.Writer{
		Addr:         k.TCP(bootstrap),
		Topic:        topic,
		Balancer:     &k.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: k.RequireOne,
	}}
}

func (w *Writer) Close() error { return w.w.Close() }

// Write satisfies the dispatcher's event sink.
func (w *Writer) Write(ctx context.Context, key string, value []byte) error {
	return w.w.WriteMessages(ctx, k.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
}
