package repository

import (
	"context"

	"LinePulse/internal/domain/models"
)

// CasePublisher fans analysed cases out to downstream consumers.
type CasePublisher interface {
	PublishCase(ctx context.Context, c *models.CaseRecord) error
	Close() error
}

// VerdictBroadcaster pushes verdicts to live subscribers.
type VerdictBroadcaster interface {
	BroadcastVerdict(result *models.AnalysisResult)
}

// Metrics records engine-level measurements.
type Metrics interface {
	RecordAnalysis(state string, trap bool)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordAlpha(key string, alpha float64)
	RecordFeedback(won bool)
	RecordAutotune(reason string)
}

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

func (NoopMetrics) RecordAnalysis(string, bool) {}
func (NoopMetrics) RecordError(string) {}
func (NoopMetrics) RecordLatency(string, float64) {}
func (NoopMetrics) RecordAlpha(string, float64) {}
func (NoopMetrics) RecordFeedback(bool) {}
func (NoopMetrics) RecordAutotune(string) {}
