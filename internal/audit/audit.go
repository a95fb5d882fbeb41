// Package audit records every counter write the reconciler applies, as an
// append-only stream replayable by the restore path.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/segmentio/kafka-go"
)

// Adjustment is one applied counter write. VariantID is empty when the write
// targeted the product's master stock field instead of a ledger entry.
// Delta is the signed requested change; NewQty the clamped stored result.
type Adjustment struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
	Delta     int64  `json:"delta"`
	NewQty    int64  `json:"newQty"`
	TS        int64  `json:"ts"`
}

// Key returns the document path the adjustment targeted, used as the Kafka
// message key so per-document ordering survives partitioning.
func (a Adjustment) Key() string {
	if a.VariantID == "" {
		return "products/" + a.ProductID
	}
	return "stock/" + a.ProductID + "/" + a.VariantID
}

type Writer interface {
	Append(a Adjustment) error
}

// MultiWriter fans out appends to multiple underlying writers.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

func (m *MultiWriter) Append(a Adjustment) error {
	for _, w := range m.writers {
		if err := w.Append(a); err != nil {
			return err
		}
	}
	return nil
}

type FileWriter struct {
	path string
}

func NewFileWriter(dir string, filename string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileWriter{path: filepath.Join(dir, filename)}, nil
}

func (w *FileWriter) Append(a Adjustment) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	if err := enc.Encode(&a); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// KafkaWriter publishes adjustments to a Kafka topic. Pure-Go client
// (segmentio/kafka-go).
type KafkaWriter struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter creates a Kafka writer.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaWriter(bootstrap string, topic string) *KafkaWriter {
	addrs := strings.Split(bootstrap, ",")
	var brokers []string
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return &KafkaWriter{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

func (k *KafkaWriter) Append(a Adjustment) error {
	b, err := json.Marshal(&a)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(
		context.Background(),
		kafka.Message{Key: []byte(a.Key()), Value: b},
	)
}

// NewKafkaWriterWith is only for tests to inject a fake writer.
func NewKafkaWriterWith(w kafkaMessageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}

// CountingWriter wraps a Writer and counts successful appends. The daemon
// uses the count as the manifest's audit offset.
type CountingWriter struct {
	w Writer
	n int64
}

func NewCountingWriter(w Writer) *CountingWriter {
	return &CountingWriter{w: w}
}

func (c *CountingWriter) Append(a Adjustment) error {
	if err := c.w.Append(a); err != nil {
		return err
	}
	c.n++
	return nil
}

func (c *CountingWriter) Count() int64 { return c.n }
