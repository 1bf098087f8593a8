package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
	pkgkafka "LinePulse/pkg/kafka"
	"LinePulse/pkg/logger"
)

// OutcomeConfirmer is the feedback entry point used by transports.
type OutcomeConfirmer interface {
	Confirm(ctx context.Context, caseID string, outcome models.Outcome) (*models.FeedbackResult, error)
}

// KafkaOutcomeHandler consumes settled match results and feeds them to
// the feedback entry point.
type KafkaOutcomeHandler struct {
	topic    string
	feedback OutcomeConfirmer
	metrics  domrepo.Metrics
	log      *logger.Logger
}

func NewKafkaOutcomeHandler(topic string, feedback OutcomeConfirmer, metrics domrepo.Metrics, log *logger.Logger) *KafkaOutcomeHandler {
	if metrics == nil {
		metrics = domrepo.NoopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaOutcomeHandler{topic: topic, feedback: feedback, metrics: metrics, log: log}
}

func (h *KafkaOutcomeHandler) Topic() string { return h.topic }

// incoming message schema: {case_id, outcome}
func (h *KafkaOutcomeHandler) Handle(ctx context.Context, b []byte) error {
	var m models.FeedbackRequest
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("outcome_unmarshal")
		return fmt.Errorf("decode outcome: %w", err)
	}
	start := time.Now()
	_, err := h.feedback.Confirm(ctx, m.CaseID, models.Outcome(m.Outcome))
	h.metrics.RecordLatency("outcome_confirm", time.Since(start).Seconds())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCaseNotFound), errors.Is(err, ErrAlreadyConfirmed), errors.Is(err, ErrInvalidOutcome):
		// retrying cannot fix these
		h.log.Warn("outcome skipped", logger.String("case_id", m.CaseID), logger.Error(err))
		return nil
	default:
		h.metrics.RecordError("outcome_confirm")
		return err
	}
}

var _ pkgkafka.MessageHandler = (*KafkaOutcomeHandler)(nil)
var _ OutcomeConfirmer = (*FeedbackUseCase)(nil)
