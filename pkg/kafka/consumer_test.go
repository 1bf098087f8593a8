package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestBackoffWithJitterBounds(t *testing.T) {
	min, max := 100*time.Millisecond, time.Second
	cases := []struct {
		attempt int
		ceiling time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
		{64, time.Second},
	}
	for _, tc := range cases {
		for i := 0; i < 50; i++ {
			d := backoffWithJitter(min, max, tc.attempt)
			if d > tc.ceiling || d < tc.ceiling/2 {
				t.Fatalf("attempt %d: backoff %v outside [%v, %v]", tc.attempt, d, tc.ceiling/2, tc.ceiling)
			}
		}
	}
}

type flakyHandler struct {
	fails int
	calls int
}

func (h *flakyHandler) Topic() string { return "outcomes" }

func (h *flakyHandler) Handle(context.Context, []byte) error {
	h.calls++
	if h.calls <= h.fails {
		return errors.New("transient")
	}
	return nil
}

func TestHandleWithRetry(t *testing.T) {
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	msg := &message{topic: "outcomes", km: kafka.Message{Value: []byte(`{}`)}}
	ctx := context.Background()

	h := &flakyHandler{fails: 2}
	if err := c.handleWithRetry(ctx, ctx, h, msg); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if h.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", h.calls)
	}

	h = &flakyHandler{fails: 10}
	if err := c.handleWithRetry(ctx, ctx, h, msg); err == nil {
		t.Fatalf("expected error once retries are exhausted")
	}
	if h.calls != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", h.calls)
	}
}

func TestHookCanRejectMessage(t *testing.T) {
	var seen error
	hook := HookFuncs{
		Before: func(ctx context.Context, _ string, _ kafka.Message, data []byte) (context.Context, []byte, error) {
			return ctx, nil, errors.New("rejected")
		},
		After: func(_ context.Context, _ string, _ kafka.Message, err error) { seen = err },
	}
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerHook(hook))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	h := &flakyHandler{}
	ctx := context.Background()
	if err := c.handleWithRetry(ctx, ctx, h, &message{topic: "outcomes"}); err == nil || err.Error() != "rejected" {
		t.Fatalf("expected hook rejection, got %v", err)
	}
	if h.calls != 0 || seen != nil {
		t.Fatalf("handler must not run after rejection (calls=%d after=%v)", h.calls, seen)
	}
}
