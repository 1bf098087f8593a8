package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
)

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    kafka.Compression
		wantErr bool
	}{
		{"", 0, false},
		{"none", 0, false},
		{"gzip", kafka.Gzip, false},
		{"snappy", kafka.Snappy, false},
		{"lz4", kafka.Lz4, false},
		{"zstd", kafka.Zstd, false},
		{"brotli", 0, true},
	}
	for _, tt := range tests {
		got, err := parseCompression(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("%q: got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewProducerValidates(t *testing.T) {
	if _, err := NewProducer(); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("rar")); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithBatching(10, 0, 0))
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	if p.writer.BatchSize != 10 || p.writer.BatchTimeout != 50*time.Millisecond {
		t.Fatalf("batching not applied: size=%d linger=%v", p.writer.BatchSize, p.writer.BatchTimeout)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{[]byte("raw"), "raw"},
		{"text", "text"},
		{map[string]int{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		got, err := encodeValue(tt.in)
		if err != nil {
			t.Fatalf("encode %v: %v", tt.in, err)
		}
		if string(got) != tt.want {
			t.Fatalf("got %s, want %s", got, tt.want)
		}
	}
	if _, err := encodeValue(make(chan int)); err == nil {
		t.Fatalf("expected error for unencodable value")
	}
}

func TestProducerMetrics(t *testing.T) {
	var nilMetrics *producerMetrics
	nilMetrics.observe("t", "gzip", 10, time.Millisecond, nil)

	reg := prometheus.NewRegistry()
	m := newProducerMetrics(reg)
	m.observe("cases", "gzip", 120, time.Millisecond, nil)
	m.observe("cases", "gzip", 80, time.Millisecond, errors.New("leader not available"))

	if got := testutil.ToFloat64(m.messages.WithLabelValues("cases", "gzip", "ok")); got != 1 {
		t.Fatalf("ok messages = %v", got)
	}
	if got := testutil.ToFloat64(m.messages.WithLabelValues("cases", "gzip", "error")); got != 1 {
		t.Fatalf("error messages = %v", got)
	}
	if got := testutil.ToFloat64(m.bytes.WithLabelValues("cases", "gzip")); got != 120 {
		t.Fatalf("bytes = %v, failed publishes must not count", got)
	}
}
