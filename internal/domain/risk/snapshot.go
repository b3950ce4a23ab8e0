package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/pkg/circuitbreaker"
)

// Query identifies the patient and states to search
type Query struct {
	PatientID   string    `json:"patient_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DateOfBirth time.Time `json:"date_of_birth"`
	Gender      string    `json:"gender,omitempty"`
	ZipCode     string    `json:"zip_code,omitempty"`
	States      []string  `json:"states"`
	Purpose     string    `json:"purpose"`
}

// Validate checks the query before it is sent
func (q *Query) Validate() error {
	var problems []string
	if q.PatientID == "" {
		problems = append(problems, "patient_id is required")
	}
	if q.FirstName == "" || q.LastName == "" {
		problems = append(problems, "patient name is required")
	}
	if q.DateOfBirth.IsZero() {
		problems = append(problems, "date_of_birth is required")
	}
	if len(q.States) == 0 {
		problems = append(problems, "at least one state is required")
	}
	for _, s := range q.States {
		if len(s) != 2 {
			problems = append(problems, fmt.Sprintf("state %q must be a two-letter code", s))
		}
	}
	if strings.TrimSpace(q.Purpose) == "" {
		problems = append(problems, "purpose is required")
	}
	if len(problems) > 0 {
		return apperr.Validation("%s", strings.Join(problems, "; "))
	}
	return nil
}

// Decision is a pharmacist's disposition after reviewing a snapshot
type Decision string

const (
	DecisionProceed            Decision = "proceed"
	DecisionProceedWithCaution Decision = "proceed_with_caution"
	DecisionConsultPrescriber  Decision = "consult_prescriber"
	DecisionRefuse             Decision = "refuse"
)

// IsValid reports whether d is a known decision
func (d Decision) IsValid() bool {
	switch d {
	case DecisionProceed, DecisionProceedWithCaution, DecisionConsultPrescriber, DecisionRefuse:
		return true
	}
	return false
}

// Review is attached once to a snapshot
type Review struct {
	ReviewerID string    `json:"reviewer_id"`
	Decision   Decision  `json:"decision"`
	Notes      string    `json:"notes,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// Snapshot is an immutable point-in-time PDMP assessment. Only Review may be
// set after creation, and only once.
type Snapshot struct {
	ID         string     `json:"id"`
	PatientID  string     `json:"patient_id"`
	QueriedBy  string     `json:"queried_by"`
	Purpose    string     `json:"purpose"`
	States     []string   `json:"states"`
	QueriedAt  time.Time  `json:"queried_at"`
	Records    []Record   `json:"records"`
	Assessment Assessment `json:"assessment"`
	Review     *Review    `json:"review,omitempty"`
}

// NeedsReview reports whether the snapshot blocks controlled dispensing until reviewed
func (s *Snapshot) NeedsReview() bool {
	return s.Review == nil && s.Assessment.RiskLevel.RequiresReview()
}

// AttachReview records the reviewer decision
func (s *Snapshot) AttachReview(r Review) error {
	if s.Review != nil {
		return apperr.Conflict(apperr.CodeAlreadyReviewed, "snapshot %s was reviewed by %s", s.ID, s.Review.ReviewerID)
	}
	if !r.Decision.IsValid() {
		return apperr.Validation("unknown review decision %q", r.Decision)
	}
	s.Review = &r
	return nil
}

// Provider fetches raw dispensing history from the state registries
type Provider interface {
	FetchHistory(ctx context.Context, q Query) ([]Record, error)
}

// Monitor queries the provider and assesses the result
type Monitor struct {
	provider Provider
	breaker  circuitbreaker.Executor
	analyzer *Analyzer
	timeout  time.Duration
	logger   *zap.Logger
}

// NewMonitor creates a monitor. breaker may be nil.
func NewMonitor(provider Provider, breaker circuitbreaker.Executor, analyzer *Analyzer, timeout time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if analyzer == nil {
		analyzer = NewAnalyzer(DefaultConfig())
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Monitor{provider: provider, breaker: breaker, analyzer: analyzer, timeout: timeout, logger: logger}
}

// Query fetches history and builds a new snapshot. Provider failures are
// returned as recoverable Unavailable errors.
func (m *Monitor) Query(ctx context.Context, q Query, actorID string, now time.Time) (*Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	out, err := circuitbreaker.Guard(ctx, m.breaker, m.timeout, func(ctx context.Context) (interface{}, error) {
		return m.provider.FetchHistory(ctx, q)
	})
	if err != nil {
		code := apperr.CodeExternalUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = apperr.CodeExternalTimeout
		}
		m.logger.Warn("pdmp provider unavailable",
			zap.String("patient_id", q.PatientID),
			zap.String("code", code),
			zap.Error(err))
		return nil, apperr.Unavailable(code, err, "pdmp query for patient %s failed", q.PatientID)
	}
	records, _ := out.([]Record)

	snap := &Snapshot{
		ID:         uuid.New().String(),
		PatientID:  q.PatientID,
		QueriedBy:  actorID,
		Purpose:    q.Purpose,
		States:     q.States,
		QueriedAt:  now,
		Records:    records,
		Assessment: m.analyzer.Analyze(records, now),
	}
	m.logger.Info("pdmp snapshot created",
		zap.String("snapshot_id", snap.ID),
		zap.String("patient_id", q.PatientID),
		zap.Int("records", len(records)),
		zap.String("risk_level", string(snap.Assessment.RiskLevel)),
		zap.Int("risk_score", snap.Assessment.RiskScore))
	return snap, nil
}

// StaticProvider serves fixed histories keyed by patient ID, for local runs
type StaticProvider map[string][]Record

// FetchHistory implements Provider
func (p StaticProvider) FetchHistory(ctx context.Context, q Query) ([]Record, error) {
	return p[q.PatientID], ctx.Err()
}
