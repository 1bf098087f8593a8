package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"LinePulse/internal/domain/models"
	"LinePulse/internal/usecase"
	xhttp "LinePulse/pkg/http"
	xlogger "LinePulse/pkg/logger"
	"LinePulse/pkg/util"
)

// Analyzer runs one analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error)
}

// InsightReader serves read-only learning state.
type InsightReader interface {
	RecentCases(ctx context.Context, matchKey string, limit int) ([]models.CaseRecord, error)
	Case(ctx context.Context, id string) (*models.CaseRecord, error)
	Pattern(ctx context.Context, sig string) (*models.PatternRecord, error)
	TopPatterns(ctx context.Context, n int) ([]models.PatternRecord, error)
	Baseline(ctx context.Context, key string) (*usecase.BaselineState, error)
	AutotuneHistory(ctx context.Context, n int) ([]models.AutotuneEvent, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// AnalysisEchoHandler exposes analysis, feedback and the read endpoints.
type AnalysisEchoHandler struct {
	logger   *xlogger.Logger
	analyzer Analyzer
	feedback usecase.OutcomeConfirmer
	insights InsightReader
	health   map[string]HealthCheck
}

func NewAnalysisEchoHandler(logger *xlogger.Logger, analyzer Analyzer, feedback usecase.OutcomeConfirmer, insights InsightReader, health map[string]HealthCheck) *AnalysisEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &AnalysisEchoHandler{logger: logger, analyzer: analyzer, feedback: feedback, insights: insights, health: health}
}

func (h *AnalysisEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.POST("/analyze", h.Analyze)
	g.POST("/feedback", h.Feedback)
	g.GET("/cases", h.Cases)
	g.GET("/cases/:id", h.Case)
	g.GET("/patterns", h.TopPatterns)
	g.GET("/patterns/:signature", h.Pattern)
	g.GET("/baselines/:key", h.Baseline)
	g.GET("/autotune", h.Autotune)
}

func (h *AnalysisEchoHandler) Analyze(c echo.Context) error {
	req := &models.AnalysisRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Kickoff != "" {
		if _, ok := util.ParseTime(req.Kickoff); !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("kickoff", "kickoff must be RFC3339 or unix seconds"))
		}
	}

	res, err := h.analyzer.Analyze(c.Request().Context(), req)
	if err != nil {
		h.logger.Error("analyze usecase error", xlogger.String("match_key", req.MatchKey), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalysisEchoHandler) Feedback(c echo.Context) error {
	req := &models.FeedbackRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.feedback.Confirm(c.Request().Context(), req.CaseID, models.Outcome(req.Outcome))
	if err != nil {
		return h.fail(c, "feedback", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalysisEchoHandler) Cases(c echo.Context) error {
	limit := util.ClampInt(util.ParseIntDefault(c.QueryParam("limit"), defaultListLimit), 1, maxListLimit)

	rows, err := h.insights.RecentCases(c.Request().Context(), c.QueryParam("match_key"), limit)
	if err != nil {
		return h.fail(c, "cases", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *AnalysisEchoHandler) Case(c echo.Context) error {
	rec, err := h.insights.Case(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "case", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *AnalysisEchoHandler) Pattern(c echo.Context) error {
	rec, err := h.insights.Pattern(c.Request().Context(), c.Param("signature"))
	if err != nil {
		return h.fail(c, "pattern", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *AnalysisEchoHandler) TopPatterns(c echo.Context) error {
	n := util.ClampInt(util.ParseIntDefault(c.QueryParam("top"), defaultListLimit), 1, maxListLimit)

	rows, err := h.insights.TopPatterns(c.Request().Context(), n)
	if err != nil {
		return h.fail(c, "patterns", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *AnalysisEchoHandler) Baseline(c echo.Context) error {
	state, err := h.insights.Baseline(c.Request().Context(), c.Param("key"))
	if err != nil {
		return h.fail(c, "baseline", err)
	}
	return xhttp.SuccessResponse(c, state)
}

func (h *AnalysisEchoHandler) Autotune(c echo.Context) error {
	limit := util.ClampInt(util.ParseIntDefault(c.QueryParam("limit"), defaultListLimit), 1, maxListLimit)

	rows, err := h.insights.AutotuneHistory(c.Request().Context(), limit)
	if err != nil {
		return h.fail(c, "autotune", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Health answers 200 when every dependency responds, 503 otherwise.
func (h *AnalysisEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.health))
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	return xhttp.DataResponse(c, status, checks)
}

// fail maps usecase errors onto AppErrors.
func (h *AnalysisEchoHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, usecase.ErrCaseNotFound),
		errors.Is(err, usecase.ErrPatternNotFound),
		errors.Is(err, usecase.ErrBaselineNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%s", err.Error()).WithError(err))
	case errors.Is(err, usecase.ErrAlreadyConfirmed):
		return xhttp.AppErrorResponse(c, xhttp.ConflictErrorf("%s", err.Error()).WithError(err))
	case errors.Is(err, usecase.ErrInvalidOutcome):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("outcome", "%s", err.Error()).WithError(err))
	}
	h.logger.Error(op+" usecase error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError("internal error").WithError(err))
}

var _ xhttp.Handler = (*AnalysisEchoHandler)(nil)
