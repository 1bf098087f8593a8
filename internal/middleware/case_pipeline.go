package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
	"LinePulse/pkg/logger"
)

// ErrPipelineFull is returned when the buffer cannot take another case.
var ErrPipelineFull = errors.New("case pipeline buffer full")

// CasePipeline sits between the analyzer and a downstream CasePublisher.
// PublishCase only enqueues; a background loop forwards cases and retries
// failed deliveries with capped exponential backoff.
type CasePipeline struct {
	next       domrepo.CasePublisher
	metrics    domrepo.Metrics
	log        *logger.Logger
	bufCh      chan *models.CaseRecord
	maxRetries int
	backoffMin time.Duration
	backoffMax time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

type PipelineOption func(*CasePipeline)

// WithBufferSize sets how many cases may wait for delivery.
func WithBufferSize(n int) PipelineOption {
	return func(p *CasePipeline) {
		if n > 0 {
			p.bufCh = make(chan *models.CaseRecord, n)
		}
	}
}

// WithRetry sets per-case delivery attempts and the backoff range.
func WithRetry(max int, min, maxDelay time.Duration) PipelineOption {
	return func(p *CasePipeline) {
		if max > 0 {
			p.maxRetries = max
		}
		if min > 0 {
			p.backoffMin = min
		}
		if maxDelay >= p.backoffMin {
			p.backoffMax = maxDelay
		}
	}
}

func WithPipelineMetrics(m domrepo.Metrics) PipelineOption {
	return func(p *CasePipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *CasePipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func NewCasePipeline(next domrepo.CasePublisher, opts ...PipelineOption) *CasePipeline {
	p := &CasePipeline{
		next:       next,
		metrics:    domrepo.NoopMetrics{},
		log:        logger.Nop(),
		bufCh:      make(chan *models.CaseRecord, 1000),
		maxRetries: 5,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the delivery loop. It runs until Close drains the buffer.
func (p *CasePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		// deliveries outlive a cancelled parent so Close can drain
		dctx := context.WithoutCancel(ctx)
		for rec := range p.bufCh {
			p.deliver(dctx, rec)
		}
	}()
}

// PublishCase enqueues rec without blocking.
func (p *CasePipeline) PublishCase(_ context.Context, rec *models.CaseRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("case pipeline closed")
	}

	select {
	case p.bufCh <- rec:
		return nil
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return ErrPipelineFull
	}
}

// Close stops accepting cases, waits for queued ones to be delivered or
// ctx to expire, then closes the downstream publisher.
func (p *CasePipeline) Close() error {
	return p.Shutdown(context.Background())
}

func (p *CasePipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	close(p.bufCh)
	p.mu.Unlock()

	var err error
	if started {
		select {
		case <-p.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	return errors.Join(err, p.next.Close())
}

// Pending returns the number of queued cases.
func (p *CasePipeline) Pending() int {
	return len(p.bufCh)
}

func (p *CasePipeline) deliver(ctx context.Context, rec *models.CaseRecord) {
	start := time.Now()
	backoff := p.backoffMin
	for attempt := 1; ; attempt++ {
		err := p.next.PublishCase(ctx, rec)
		if err == nil {
			p.metrics.RecordLatency("case_publish", time.Since(start).Seconds())
			return
		}
		if attempt >= p.maxRetries {
			p.metrics.RecordError("case_publish_dropped")
			p.log.Error("case dropped after retries",
				logger.String("case_id", rec.ID),
				logger.Int("attempts", attempt),
				logger.Error(err))
			return
		}
		p.metrics.RecordError("case_publish_retry")
		time.Sleep(backoff)
		if backoff *= 2; backoff > p.backoffMax {
			backoff = p.backoffMax
		}
	}
}

var _ domrepo.CasePublisher = (*CasePipeline)(nil)
