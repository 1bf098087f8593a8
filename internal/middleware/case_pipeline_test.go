package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"LinePulse/internal/domain/models"
)

type flakyPublisher struct {
	mu     sync.Mutex
	fails  int
	calls  int
	sent   []string
	closed bool
}

func (f *flakyPublisher) PublishCase(_ context.Context, c *models.CaseRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, c.ID)
	return nil
}

func (f *flakyPublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestPipelineRetriesAndDrains(t *testing.T) {
	down := &flakyPublisher{fails: 2}
	p := NewCasePipeline(down, WithRetry(5, time.Millisecond, 2*time.Millisecond))
	p.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		if err := p.PublishCase(context.Background(), &models.CaseRecord{ID: id}); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	down.mu.Lock()
	defer down.mu.Unlock()
	if len(down.sent) != 3 || down.sent[0] != "a" || down.sent[2] != "c" {
		t.Fatalf("expected ordered delivery of all cases, got %v", down.sent)
	}
	if !down.closed {
		t.Fatalf("downstream not closed")
	}
	if err := p.PublishCase(context.Background(), &models.CaseRecord{ID: "late"}); err == nil {
		t.Fatalf("publish after close must fail")
	}
}

func TestPipelineDropsAfterMaxRetries(t *testing.T) {
	down := &flakyPublisher{fails: 100}
	p := NewCasePipeline(down, WithRetry(3, time.Millisecond, time.Millisecond))
	p.Start(context.Background())

	_ = p.PublishCase(context.Background(), &models.CaseRecord{ID: "x"})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	down.mu.Lock()
	defer down.mu.Unlock()
	if down.calls != 3 || len(down.sent) != 0 {
		t.Fatalf("expected 3 attempts and no delivery, got calls=%d sent=%v", down.calls, down.sent)
	}
}

func TestPipelineBufferFull(t *testing.T) {
	p := NewCasePipeline(&flakyPublisher{}, WithBufferSize(1))

	if err := p.PublishCase(context.Background(), &models.CaseRecord{ID: "1"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := p.PublishCase(context.Background(), &models.CaseRecord{ID: "2"}); !errors.Is(err, ErrPipelineFull) {
		t.Fatalf("expected ErrPipelineFull, got %v", err)
	}
	if p.Pending() != 1 {
		t.Fatalf("pending = %d", p.Pending())
	}
	_ = p.Close()
}
