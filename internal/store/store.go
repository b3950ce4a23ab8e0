// Package store defines the persistence contract the workflow engine runs on.
// Every mutation happens inside WithTx so a state change, its history, its
// audit journal rows and its outbox events commit together or not at all.
package store

import (
	"context"
	"errors"

	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
	"github.com/drfirst/go-rxworkflow/internal/domain/claims"
	"github.com/drfirst/go-rxworkflow/internal/domain/dur"
	"github.com/drfirst/go-rxworkflow/internal/domain/patient"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/domain/risk"
	"github.com/drfirst/go-rxworkflow/internal/domain/willcall"
)

// ErrVersionConflict is returned when an update was computed against a stale version
var ErrVersionConflict = errors.New("store: version conflict")

// PrescriptionFilter narrows prescription listings
type PrescriptionFilter struct {
	State     prescription.State
	PatientID string
	Limit     int
}

// Reader is the read side shared by the store and its transactions
type Reader interface {
	GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error)
	ListPrescriptions(ctx context.Context, f PrescriptionFilter) ([]*prescription.Prescription, error)
	ListHistory(ctx context.Context, prescriptionID string) ([]*prescription.HistoryEntry, error)
	ListFills(ctx context.Context, prescriptionID string) ([]*prescription.Fill, error)
	ListClaims(ctx context.Context, prescriptionID string) ([]*claims.Claim, error)
	ListClaimsByStatus(ctx context.Context, status claims.Status, limit int) ([]*claims.Claim, error)
	ListDURAlerts(ctx context.Context, prescriptionID string) ([]*dur.Alert, error)
	GetDURAlert(ctx context.Context, id string) (*dur.Alert, error)
	GetPatient(ctx context.Context, id string) (*patient.Patient, error)
	GetPlan(ctx context.Context, id string) (*claims.Plan, error)
	GetSnapshot(ctx context.Context, id string) (*risk.Snapshot, error)
	// LatestSnapshot returns nil without error when the patient has none
	LatestSnapshot(ctx context.Context, patientID string) (*risk.Snapshot, error)
	ListBins(ctx context.Context) ([]*willcall.Bin, error)
	GetInventory(ctx context.Context, ndc string) (onHand float64, tracked bool, err error)
	ListAudit(ctx context.Context, resourceID string) ([]*audit.Entry, error)
}

// Tx is one unit of work. Reads inside a Tx observe its own writes, and a
// prescription read through a Tx is locked until the Tx ends.
type Tx interface {
	Reader

	InsertPrescription(ctx context.Context, p *prescription.Prescription) error
	// UpdatePrescription writes p only if the stored version is expectedVersion
	UpdatePrescription(ctx context.Context, p *prescription.Prescription, expectedVersion int) error
	AppendHistory(ctx context.Context, entries ...*prescription.HistoryEntry) error

	InsertFill(ctx context.Context, f *prescription.Fill) error
	UpdateFill(ctx context.Context, f *prescription.Fill) error

	InsertClaim(ctx context.Context, c *claims.Claim) error
	UpdateClaim(ctx context.Context, c *claims.Claim) error

	InsertDURAlerts(ctx context.Context, alerts []*dur.Alert) error
	UpdateDURAlert(ctx context.Context, a *dur.Alert) error

	SavePatient(ctx context.Context, p *patient.Patient) error
	SavePlan(ctx context.Context, p *claims.Plan) error

	InsertSnapshot(ctx context.Context, s *risk.Snapshot) error
	UpdateSnapshotReview(ctx context.Context, s *risk.Snapshot) error

	SaveBins(ctx context.Context, bins ...*willcall.Bin) error

	SetInventory(ctx context.Context, ndc string, onHand float64) error
	// AdjustInventory atomically adds delta to on-hand stock. Untracked NDCs
	// are left alone and report tracked=false. A result below zero fails with
	// INSUFFICIENT_INVENTORY and changes nothing.
	AdjustInventory(ctx context.Context, ndc string, delta float64) (onHand float64, tracked bool, err error)

	AppendAudit(ctx context.Context, entries ...*audit.Entry) error
	EnqueueEvent(ctx context.Context, topic string, ev *prescription.Event) error
}

// Store is the persistent store
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close()
}
