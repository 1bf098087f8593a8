package models

import (
	"encoding/json"
	"time"
)

// BaselineRecord is the adaptive EWMA state of one signal. AlphaBias is
// the manual or autotune offset re-applied on every volatility retune.
type BaselineRecord struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Alpha     float64   `json:"alpha"`
	AlphaBias float64   `json:"alpha_bias,omitempty"`
	Samples   int64     `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LogEntry is one row of an append-only log (samples, cases, audit).
type LogEntry struct {
	Log       string          `json:"log"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"ts"`
}

// Sample is a raw observation fed to a baseline.
type Sample struct {
	Value float64   `json:"v"`
	At    time.Time `json:"at"`
}

// PatternRecord aggregates outcomes of a feature signature.
type PatternRecord struct {
	Signature string            `json:"signature"`
	Count     int               `json:"count"`
	WinRate   float64           `json:"win_rate"`
	LastSeen  time.Time         `json:"last_seen"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CaseRecord is the persisted trace of one analysis.
type CaseRecord struct {
	ID          string          `json:"id"`
	MatchKey    string          `json:"match_key"`
	Input       AnalysisRequest `json:"input"`
	Analysis    AnalysisResult  `json:"analysis"`
	Outcome     Outcome         `json:"outcome,omitempty"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
	Timestamp   time.Time       `json:"ts"`
}

// AutotuneEvent is the audit trail of one alpha recalibration.
type AutotuneEvent struct {
	Key        string    `json:"key"`
	OldAlpha   float64   `json:"old_alpha"`
	NewAlpha   float64   `json:"new_alpha"`
	AvgWinRate float64   `json:"avg_win_rate"`
	Patterns   int       `json:"patterns"`
	Confirmed  int64     `json:"confirmed"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// FeedbackResult is returned by the feedback entry point.
type FeedbackResult struct {
	CaseID    string         `json:"case_id"`
	Outcome   Outcome        `json:"outcome"`
	Predicted Outcome        `json:"predicted"`
	Won       bool           `json:"won"`
	Pattern   PatternRecord  `json:"pattern"`
	Confirmed int64          `json:"confirmed"`
	Autotune  *AutotuneEvent `json:"autotune,omitempty"`
}
