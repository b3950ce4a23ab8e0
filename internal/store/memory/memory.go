// Package memory is an in-process implementation of store.Store. Committed
// state is never mutated; each transaction works on a copy that replaces it
// on success, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
	"github.com/drfirst/go-rxworkflow/internal/domain/claims"
	"github.com/drfirst/go-rxworkflow/internal/domain/dur"
	"github.com/drfirst/go-rxworkflow/internal/domain/patient"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/domain/risk"
	"github.com/drfirst/go-rxworkflow/internal/domain/willcall"
	"github.com/drfirst/go-rxworkflow/internal/store"
)

// OutboxMessage is an event waiting to be relayed
type OutboxMessage struct {
	Topic string
	Key   string
	Event prescription.Event
}

// Store keeps everything in memory
type Store struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	st      *state
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*state)(nil)
)

// New creates an empty store
func New() *Store {
	return &Store{st: newState()}
}

func (m *Store) current() *state {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st
}

func (m *Store) commit(next *state) {
	m.mu.Lock()
	m.st = next
	m.mu.Unlock()
}

// WithTx serializes writers and swaps in the new state only when fn succeeds
func (m *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	next := m.current().clone()
	if err := fn(ctx, next); err != nil {
		return err
	}
	m.commit(next)
	return nil
}

func (m *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Store) Close() {}

// Outbox returns the pending outbox messages
func (m *Store) Outbox() []OutboxMessage {
	st := m.current()
	out := make([]OutboxMessage, len(st.outbox))
	copy(out, st.outbox)
	return out
}

// DrainOutbox removes and returns the pending outbox messages
func (m *Store) DrainOutbox() []OutboxMessage {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	next := m.current().clone()
	out := next.outbox
	next.outbox = nil
	m.commit(next)
	return out
}

func (m *Store) GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error) {
	return m.current().GetPrescription(ctx, id)
}

func (m *Store) ListPrescriptions(ctx context.Context, f store.PrescriptionFilter) ([]*prescription.Prescription, error) {
	return m.current().ListPrescriptions(ctx, f)
}

func (m *Store) ListHistory(ctx context.Context, prescriptionID string) ([]*prescription.HistoryEntry, error) {
	return m.current().ListHistory(ctx, prescriptionID)
}

func (m *Store) ListFills(ctx context.Context, prescriptionID string) ([]*prescription.Fill, error) {
	return m.current().ListFills(ctx, prescriptionID)
}

func (m *Store) ListClaims(ctx context.Context, prescriptionID string) ([]*claims.Claim, error) {
	return m.current().ListClaims(ctx, prescriptionID)
}

func (m *Store) ListClaimsByStatus(ctx context.Context, status claims.Status, limit int) ([]*claims.Claim, error) {
	return m.current().ListClaimsByStatus(ctx, status, limit)
}

func (m *Store) ListDURAlerts(ctx context.Context, prescriptionID string) ([]*dur.Alert, error) {
	return m.current().ListDURAlerts(ctx, prescriptionID)
}

func (m *Store) GetDURAlert(ctx context.Context, id string) (*dur.Alert, error) {
	return m.current().GetDURAlert(ctx, id)
}

func (m *Store) GetPatient(ctx context.Context, id string) (*patient.Patient, error) {
	return m.current().GetPatient(ctx, id)
}

func (m *Store) GetPlan(ctx context.Context, id string) (*claims.Plan, error) {
	return m.current().GetPlan(ctx, id)
}

func (m *Store) GetSnapshot(ctx context.Context, id string) (*risk.Snapshot, error) {
	return m.current().GetSnapshot(ctx, id)
}

func (m *Store) LatestSnapshot(ctx context.Context, patientID string) (*risk.Snapshot, error) {
	return m.current().LatestSnapshot(ctx, patientID)
}

func (m *Store) ListBins(ctx context.Context) ([]*willcall.Bin, error) {
	return m.current().ListBins(ctx)
}

func (m *Store) GetInventory(ctx context.Context, ndc string) (float64, bool, error) {
	return m.current().GetInventory(ctx, ndc)
}

func (m *Store) ListAudit(ctx context.Context, resourceID string) ([]*audit.Entry, error) {
	return m.current().ListAudit(ctx, resourceID)
}

// state is one immutable generation of data, or the working copy of a tx
type state struct {
	prescriptions map[string]prescription.Prescription
	history       map[string][]prescription.HistoryEntry
	fills         map[string][]prescription.Fill
	claims        map[string]claims.Claim
	claimOrder    []string
	alerts        map[string]dur.Alert
	alertOrder    []string
	patients      map[string]patient.Patient
	plans         map[string]claims.Plan
	snapshots     map[string]risk.Snapshot
	bins          map[string]willcall.Bin
	inventory     map[string]float64
	audit         []audit.Entry
	outbox        []OutboxMessage
}

func newState() *state {
	return &state{
		prescriptions: map[string]prescription.Prescription{},
		history:       map[string][]prescription.HistoryEntry{},
		fills:         map[string][]prescription.Fill{},
		claims:        map[string]claims.Claim{},
		alerts:        map[string]dur.Alert{},
		patients:      map[string]patient.Patient{},
		plans:         map[string]claims.Plan{},
		snapshots:     map[string]risk.Snapshot{},
		bins:          map[string]willcall.Bin{},
		inventory:     map[string]float64{},
	}
}

func (s *state) clone() *state {
	n := newState()
	for k, v := range s.prescriptions {
		n.prescriptions[k] = v
	}
	for k, v := range s.history {
		n.history[k] = append([]prescription.HistoryEntry(nil), v...)
	}
	for k, v := range s.fills {
		n.fills[k] = append([]prescription.Fill(nil), v...)
	}
	for k, v := range s.claims {
		n.claims[k] = v
	}
	for k, v := range s.alerts {
		n.alerts[k] = v
	}
	for k, v := range s.patients {
		n.patients[k] = v
	}
	for k, v := range s.plans {
		n.plans[k] = v
	}
	for k, v := range s.snapshots {
		n.snapshots[k] = v
	}
	for k, v := range s.bins {
		n.bins[k] = v
	}
	for k, v := range s.inventory {
		n.inventory[k] = v
	}
	n.claimOrder = append([]string(nil), s.claimOrder...)
	n.alertOrder = append([]string(nil), s.alertOrder...)
	n.audit = append([]audit.Entry(nil), s.audit...)
	n.outbox = append([]OutboxMessage(nil), s.outbox...)
	return n
}

func (s *state) GetPrescription(_ context.Context, id string) (*prescription.Prescription, error) {
	p, ok := s.prescriptions[id]
	if !ok {
		return nil, apperr.NotFound("prescription", id)
	}
	return &p, nil
}

func (s *state) ListPrescriptions(_ context.Context, f store.PrescriptionFilter) ([]*prescription.Prescription, error) {
	var out []*prescription.Prescription
	for _, p := range s.prescriptions {
		if f.State != "" && p.State != f.State {
			continue
		}
		if f.PatientID != "" && p.PatientID != f.PatientID {
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank(); ri != rj {
			return ri < rj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *state) ListHistory(_ context.Context, prescriptionID string) ([]*prescription.HistoryEntry, error) {
	entries := s.history[prescriptionID]
	out := make([]*prescription.HistoryEntry, 0, len(entries))
	for i := range entries {
		h := entries[i]
		out = append(out, &h)
	}
	return out, nil
}

func (s *state) ListFills(_ context.Context, prescriptionID string) ([]*prescription.Fill, error) {
	fills := s.fills[prescriptionID]
	out := make([]*prescription.Fill, 0, len(fills))
	for i := range fills {
		f := fills[i]
		out = append(out, &f)
	}
	return out, nil
}

func (s *state) ListClaims(_ context.Context, prescriptionID string) ([]*claims.Claim, error) {
	var out []*claims.Claim
	for _, id := range s.claimOrder {
		c := s.claims[id]
		if c.PrescriptionID == prescriptionID {
			out = append(out, cloneClaim(c))
		}
	}
	return out, nil
}

func (s *state) ListClaimsByStatus(_ context.Context, status claims.Status, limit int) ([]*claims.Claim, error) {
	var out []*claims.Claim
	for _, id := range s.claimOrder {
		c := s.claims[id]
		if c.Status == status {
			out = append(out, cloneClaim(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *state) ListDURAlerts(_ context.Context, prescriptionID string) ([]*dur.Alert, error) {
	var out []*dur.Alert
	for _, id := range s.alertOrder {
		a := s.alerts[id]
		if a.PrescriptionID == prescriptionID {
			out = append(out, &a)
		}
	}
	return out, nil
}

func (s *state) GetDURAlert(_ context.Context, id string) (*dur.Alert, error) {
	a, ok := s.alerts[id]
	if !ok {
		return nil, apperr.NotFound("dur_alert", id)
	}
	return &a, nil
}

func (s *state) GetPatient(_ context.Context, id string) (*patient.Patient, error) {
	p, ok := s.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient", id)
	}
	p.Allergies = append([]string{}, p.Allergies...)
	p.Conditions = append([]string{}, p.Conditions...)
	return &p, nil
}

func (s *state) GetPlan(_ context.Context, id string) (*claims.Plan, error) {
	p, ok := s.plans[id]
	if !ok {
		return nil, apperr.NotFound("insurance_plan", id)
	}
	return &p, nil
}

func (s *state) GetSnapshot(_ context.Context, id string) (*risk.Snapshot, error) {
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, apperr.NotFound("pdmp_snapshot", id)
	}
	return cloneSnapshot(snap), nil
}

func (s *state) LatestSnapshot(_ context.Context, patientID string) (*risk.Snapshot, error) {
	var latest *risk.Snapshot
	for _, snap := range s.snapshots {
		if snap.PatientID != patientID {
			continue
		}
		if latest == nil || snap.QueriedAt.After(latest.QueriedAt) {
			latest = cloneSnapshot(snap)
		}
	}
	return latest, nil
}

func (s *state) ListBins(_ context.Context) ([]*willcall.Bin, error) {
	out := make([]*willcall.Bin, 0, len(s.bins))
	for _, b := range s.bins {
		out = append(out, cloneBin(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) GetInventory(_ context.Context, ndc string) (float64, bool, error) {
	v, ok := s.inventory[ndc]
	return v, ok, nil
}

func (s *state) ListAudit(_ context.Context, resourceID string) ([]*audit.Entry, error) {
	var out []*audit.Entry
	for i := range s.audit {
		if s.audit[i].ResourceID == resourceID {
			e := s.audit[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

func (s *state) InsertPrescription(_ context.Context, p *prescription.Prescription) error {
	if _, ok := s.prescriptions[p.ID]; ok {
		return fmt.Errorf("prescription %s already exists", p.ID)
	}
	s.prescriptions[p.ID] = *p
	return nil
}

func (s *state) UpdatePrescription(_ context.Context, p *prescription.Prescription, expectedVersion int) error {
	cur, ok := s.prescriptions[p.ID]
	if !ok {
		return apperr.NotFound("prescription", p.ID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("prescription %s at version %d, expected %d: %w", p.ID, cur.Version, expectedVersion, store.ErrVersionConflict)
	}
	s.prescriptions[p.ID] = *p
	return nil
}

func (s *state) AppendHistory(_ context.Context, entries ...*prescription.HistoryEntry) error {
	for _, h := range entries {
		s.history[h.PrescriptionID] = append(s.history[h.PrescriptionID], *h)
	}
	return nil
}

func (s *state) InsertFill(_ context.Context, f *prescription.Fill) error {
	s.fills[f.PrescriptionID] = append(s.fills[f.PrescriptionID], *f)
	return nil
}

func (s *state) UpdateFill(_ context.Context, f *prescription.Fill) error {
	fills := s.fills[f.PrescriptionID]
	for i := range fills {
		if fills[i].ID == f.ID {
			fills[i] = *f
			return nil
		}
	}
	return apperr.NotFound("fill", f.ID)
}

func (s *state) InsertClaim(_ context.Context, c *claims.Claim) error {
	if _, ok := s.claims[c.ID]; ok {
		return fmt.Errorf("claim %s already exists", c.ID)
	}
	s.claims[c.ID] = *cloneClaim(*c)
	s.claimOrder = append(s.claimOrder, c.ID)
	return nil
}

func (s *state) UpdateClaim(_ context.Context, c *claims.Claim) error {
	if _, ok := s.claims[c.ID]; !ok {
		return apperr.NotFound("claim", c.ID)
	}
	s.claims[c.ID] = *cloneClaim(*c)
	return nil
}

func (s *state) InsertDURAlerts(_ context.Context, alerts []*dur.Alert) error {
	for _, a := range alerts {
		s.alerts[a.ID] = *a
		s.alertOrder = append(s.alertOrder, a.ID)
	}
	return nil
}

func (s *state) UpdateDURAlert(_ context.Context, a *dur.Alert) error {
	if _, ok := s.alerts[a.ID]; !ok {
		return apperr.NotFound("dur_alert", a.ID)
	}
	s.alerts[a.ID] = *a
	return nil
}

func (s *state) SavePatient(_ context.Context, p *patient.Patient) error {
	cp := *p
	cp.Allergies = append([]string{}, p.Allergies...)
	cp.Conditions = append([]string{}, p.Conditions...)
	s.patients[p.ID] = cp
	return nil
}

func (s *state) SavePlan(_ context.Context, p *claims.Plan) error {
	s.plans[p.ID] = *p
	return nil
}

func (s *state) InsertSnapshot(_ context.Context, snap *risk.Snapshot) error {
	if _, ok := s.snapshots[snap.ID]; ok {
		return fmt.Errorf("snapshot %s already exists", snap.ID)
	}
	s.snapshots[snap.ID] = *cloneSnapshot(*snap)
	return nil
}

func (s *state) UpdateSnapshotReview(_ context.Context, snap *risk.Snapshot) error {
	cur, ok := s.snapshots[snap.ID]
	if !ok {
		return apperr.NotFound("pdmp_snapshot", snap.ID)
	}
	if snap.Review != nil {
		r := *snap.Review
		cur.Review = &r
	}
	s.snapshots[snap.ID] = cur
	return nil
}

func (s *state) SaveBins(_ context.Context, bins ...*willcall.Bin) error {
	for _, b := range bins {
		s.bins[b.ID] = *cloneBin(*b)
	}
	return nil
}

func (s *state) SetInventory(_ context.Context, ndc string, onHand float64) error {
	if onHand < 0 {
		return apperr.Validation("on-hand quantity cannot be negative")
	}
	s.inventory[ndc] = onHand
	return nil
}

func (s *state) AdjustInventory(_ context.Context, ndc string, delta float64) (float64, bool, error) {
	cur, ok := s.inventory[ndc]
	if !ok {
		return 0, false, nil
	}
	next := cur + delta
	if next < 0 {
		return cur, true, apperr.Precondition(apperr.CodeInsufficientStock,
			"ndc %s has %.2f on hand, %.2f requested", ndc, cur, -delta)
	}
	s.inventory[ndc] = next
	return next, true, nil
}

func (s *state) AppendAudit(_ context.Context, entries ...*audit.Entry) error {
	for _, e := range entries {
		s.audit = append(s.audit, *e)
	}
	return nil
}

func (s *state) EnqueueEvent(_ context.Context, topic string, ev *prescription.Event) error {
	s.outbox = append(s.outbox, OutboxMessage{Topic: topic, Key: ev.AggregateID, Event: *ev})
	return nil
}

func cloneClaim(c claims.Claim) *claims.Claim {
	c.Rejects = append([]claims.Reject(nil), c.Rejects...)
	return &c
}

func cloneSnapshot(s risk.Snapshot) *risk.Snapshot {
	s.States = append([]string(nil), s.States...)
	s.Records = append([]risk.Record(nil), s.Records...)
	s.Assessment.Alerts = append([]risk.Alert(nil), s.Assessment.Alerts...)
	if s.Review != nil {
		r := *s.Review
		s.Review = &r
	}
	return &s
}

func cloneBin(b willcall.Bin) *willcall.Bin {
	b.PrescriptionIDs = append([]string{}, b.PrescriptionIDs...)
	return &b
}
