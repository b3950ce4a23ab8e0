package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

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

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL implementation of store.Store. Entities are kept
// as JSONB documents next to the columns the queries filter and order on.
type Store struct {
	reader
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore wraps an open pool
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{reader: reader{q: pool}, pool: pool, logger: logger}
}

// WithTx runs fn in a read-committed transaction. Prescriptions read through
// the transaction are row-locked until it ends.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txn{reader: reader{q: tx, lock: true}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close closes the pool
func (s *Store) Close() { s.pool.Close() }

type reader struct {
	q    querier
	lock bool
}

func getDoc[T any](ctx context.Context, q querier, resource, id, sql string, args ...any) (*T, error) {
	var raw []byte
	if err := q.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(resource, id)
		}
		return nil, fmt.Errorf("get %s: %w", resource, err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", resource, id, err)
	}
	return &v, nil
}

func listDocs[T any](ctx context.Context, q querier, resource, sql string, args ...any) ([]*T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", resource, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", resource, err)
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", resource, err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (r reader) GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error) {
	q := `SELECT doc FROM prescriptions WHERE id = $1`
	if r.lock {
		q += ` FOR UPDATE`
	}
	return getDoc[prescription.Prescription](ctx, r.q, "prescription", id, q, id)
}

func (r reader) ListPrescriptions(ctx context.Context, f store.PrescriptionFilter) ([]*prescription.Prescription, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	q := `
		SELECT doc FROM prescriptions
		WHERE ($1 = '' OR state = $1)
		  AND ($2 = '' OR patient_id = $2)
		ORDER BY CASE priority WHEN 'STAT' THEN 0 WHEN 'URGENT' THEN 1 ELSE 2 END,
		         promise_at ASC NULLS LAST, created_at ASC
		LIMIT $3
	`
	return listDocs[prescription.Prescription](ctx, r.q, "prescriptions", q, string(f.State), f.PatientID, limit)
}

func (r reader) ListHistory(ctx context.Context, prescriptionID string) ([]*prescription.HistoryEntry, error) {
	return listDocs[prescription.HistoryEntry](ctx, r.q, "history",
		`SELECT doc FROM prescription_history WHERE prescription_id = $1 ORDER BY sequence ASC`, prescriptionID)
}

func (r reader) ListFills(ctx context.Context, prescriptionID string) ([]*prescription.Fill, error) {
	return listDocs[prescription.Fill](ctx, r.q, "fills",
		`SELECT doc FROM fills WHERE prescription_id = $1 ORDER BY fill_number ASC`, prescriptionID)
}

func (r reader) ListClaims(ctx context.Context, prescriptionID string) ([]*claims.Claim, error) {
	return listDocs[claims.Claim](ctx, r.q, "claims",
		`SELECT doc FROM claims WHERE prescription_id = $1 ORDER BY created_at ASC, id ASC`, prescriptionID)
}

func (r reader) ListClaimsByStatus(ctx context.Context, status claims.Status, limit int) ([]*claims.Claim, error) {
	if limit <= 0 {
		limit = 1000
	}
	return listDocs[claims.Claim](ctx, r.q, "claims",
		`SELECT doc FROM claims WHERE status = $1 ORDER BY created_at ASC LIMIT $2`, string(status), limit)
}

func (r reader) ListDURAlerts(ctx context.Context, prescriptionID string) ([]*dur.Alert, error) {
	return listDocs[dur.Alert](ctx, r.q, "dur alerts",
		`SELECT doc FROM dur_alerts WHERE prescription_id = $1 ORDER BY created_at ASC, id ASC`, prescriptionID)
}

func (r reader) GetDURAlert(ctx context.Context, id string) (*dur.Alert, error) {
	q := `SELECT doc FROM dur_alerts WHERE id = $1`
	if r.lock {
		q += ` FOR UPDATE`
	}
	return getDoc[dur.Alert](ctx, r.q, "dur alert", id, q, id)
}

func (r reader) GetPatient(ctx context.Context, id string) (*patient.Patient, error) {
	return getDoc[patient.Patient](ctx, r.q, "patient", id, `SELECT doc FROM patients WHERE id = $1`, id)
}

func (r reader) GetPlan(ctx context.Context, id string) (*claims.Plan, error) {
	return getDoc[claims.Plan](ctx, r.q, "insurance plan", id, `SELECT doc FROM insurance_plans WHERE id = $1`, id)
}

func (r reader) GetSnapshot(ctx context.Context, id string) (*risk.Snapshot, error) {
	q := `SELECT doc FROM pdmp_snapshots WHERE id = $1`
	if r.lock {
		q += ` FOR UPDATE`
	}
	return getDoc[risk.Snapshot](ctx, r.q, "pdmp snapshot", id, q, id)
}

func (r reader) LatestSnapshot(ctx context.Context, patientID string) (*risk.Snapshot, error) {
	snaps, err := listDocs[risk.Snapshot](ctx, r.q, "pdmp snapshots",
		`SELECT doc FROM pdmp_snapshots WHERE patient_id = $1 ORDER BY queried_at DESC LIMIT 1`, patientID)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return snaps[0], nil
}

func (r reader) ListBins(ctx context.Context) ([]*willcall.Bin, error) {
	q := `SELECT doc FROM will_call_bins ORDER BY id ASC`
	if r.lock {
		q += ` FOR UPDATE`
	}
	return listDocs[willcall.Bin](ctx, r.q, "bins", q)
}

func (r reader) GetInventory(ctx context.Context, ndc string) (float64, bool, error) {
	var onHand float64
	err := r.q.QueryRow(ctx, `SELECT on_hand FROM inventory WHERE ndc = $1`, ndc).Scan(&onHand)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get inventory: %w", err)
	}
	return onHand, true, nil
}

func (r reader) ListAudit(ctx context.Context, resourceID string) ([]*audit.Entry, error) {
	return listDocs[audit.Entry](ctx, r.q, "audit",
		`SELECT doc FROM audit_log WHERE resource_id = $1 ORDER BY created_at ASC, id ASC`, resourceID)
}

// txn is the write side of one unit of work
type txn struct {
	reader
	tx pgx.Tx
}

func (t *txn) exec(ctx context.Context, what, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return tag, fmt.Errorf("%s: %w", what, err)
	}
	return tag, nil
}

func (t *txn) InsertPrescription(ctx context.Context, p *prescription.Prescription) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, "insert prescription", `
		INSERT INTO prescriptions (id, version, state, priority, patient_id, promise_at, created_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.Version, string(p.State), string(p.Priority), p.PatientID, p.PromiseTime, p.CreatedAt, doc)
	return err
}

func (t *txn) UpdatePrescription(ctx context.Context, p *prescription.Prescription, expectedVersion int) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	tag, err := t.exec(ctx, "update prescription", `
		UPDATE prescriptions
		SET version = $2, state = $3, priority = $4, promise_at = $5, doc = $6
		WHERE id = $1 AND version = $7
	`, p.ID, p.Version, string(p.State), string(p.Priority), p.PromiseTime, doc, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("prescription %s at version %d: %w", p.ID, expectedVersion, store.ErrVersionConflict)
	}
	return nil
}

func (t *txn) AppendHistory(ctx context.Context, entries ...*prescription.HistoryEntry) error {
	batch := &pgx.Batch{}
	for _, h := range entries {
		doc, err := json.Marshal(h)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO prescription_history (prescription_id, sequence, doc, created_at)
			VALUES ($1, $2, $3, $4)
		`, h.PrescriptionID, h.Sequence, doc, h.Timestamp)
	}
	return t.sendBatch(ctx, "append history", batch)
}

func (t *txn) sendBatch(ctx context.Context, what string, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (t *txn) InsertFill(ctx context.Context, f *prescription.Fill) error {
	doc, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, "insert fill",
		`INSERT INTO fills (id, prescription_id, fill_number, doc) VALUES ($1, $2, $3, $4)`,
		f.ID, f.PrescriptionID, f.FillNumber, doc)
	return err
}

func (t *txn) UpdateFill(ctx context.Context, f *prescription.Fill) error {
	doc, err := json.Marshal(f)
	if err != nil {
		return err
	}
	tag, err := t.exec(ctx, "update fill", `UPDATE fills SET doc = $2 WHERE id = $1`, f.ID, doc)
	if err == nil && tag.RowsAffected() == 0 {
		return apperr.NotFound("fill", f.ID)
	}
	return err
}

func (t *txn) InsertClaim(ctx context.Context, c *claims.Claim) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, "insert claim",
		`INSERT INTO claims (id, prescription_id, status, created_at, doc) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.PrescriptionID, string(c.Status), c.CreatedAt, doc)
	return err
}

func (t *txn) UpdateClaim(ctx context.Context, c *claims.Claim) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	tag, err := t.exec(ctx, "update claim",
		`UPDATE claims SET status = $2, doc = $3 WHERE id = $1`, c.ID, string(c.Status), doc)
	if err == nil && tag.RowsAffected() == 0 {
		return apperr.NotFound("claim", c.ID)
	}
	return err
}

func (t *txn) InsertDURAlerts(ctx context.Context, alerts []*dur.Alert) error {
	batch := &pgx.Batch{}
	for _, a := range alerts {
		doc, err := json.Marshal(a)
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO dur_alerts (id, prescription_id, created_at, doc) VALUES ($1, $2, $3, $4)`,
			a.ID, a.PrescriptionID, a.CreatedAt, doc)
	}
	return t.sendBatch(ctx, "insert dur alerts", batch)
}

func (t *txn) UpdateDURAlert(ctx context.Context, a *dur.Alert) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	tag, err := t.exec(ctx, "update dur alert", `UPDATE dur_alerts SET doc = $2 WHERE id = $1`, a.ID, doc)
	if err == nil && tag.RowsAffected() == 0 {
		return apperr.NotFound("dur alert", a.ID)
	}
	return err
}

func (t *txn) SavePatient(ctx context.Context, p *patient.Patient) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, "save patient", `
		INSERT INTO patients (id, doc, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`, p.ID, doc, p.UpdatedAt)
	return err
}

func (t *txn) SavePlan(ctx context.Context, p *claims.Plan) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, "save plan", `
		INSERT INTO insurance_plans (id, patient_id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, p.ID, p.PatientID, doc)
	return err
}

func (t *txn) InsertSnapshot(ctx context.Context, s *risk.Snapshot) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, "insert snapshot",
		`INSERT INTO pdmp_snapshots (id, patient_id, queried_at, doc) VALUES ($1, $2, $3, $4)`,
		s.ID, s.PatientID, s.QueriedAt, doc)
	return err
}

// UpdateSnapshotReview only ever sets the review; the assessment stays as stored
func (t *txn) UpdateSnapshotReview(ctx context.Context, s *risk.Snapshot) error {
	if s.Review == nil {
		return apperr.Validation("snapshot %s has no review to store", s.ID)
	}
	review, err := json.Marshal(s.Review)
	if err != nil {
		return err
	}
	tag, err := t.exec(ctx, "update snapshot review", `
		UPDATE pdmp_snapshots SET doc = jsonb_set(doc, '{review}', $2::jsonb)
		WHERE id = $1 AND (doc->'review' IS NULL OR doc->'review' = 'null'::jsonb)
	`, s.ID, review)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.CodeAlreadyReviewed, "snapshot %s is already reviewed", s.ID)
	}
	return nil
}

func (t *txn) SaveBins(ctx context.Context, bins ...*willcall.Bin) error {
	batch := &pgx.Batch{}
	for _, b := range bins {
		doc, err := json.Marshal(b)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO will_call_bins (id, doc) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
		`, b.ID, doc)
	}
	return t.sendBatch(ctx, "save bins", batch)
}

func (t *txn) SetInventory(ctx context.Context, ndc string, onHand float64) error {
	if onHand < 0 {
		return apperr.Validation("on_hand cannot be negative")
	}
	_, err := t.exec(ctx, "set inventory", `
		INSERT INTO inventory (ndc, on_hand) VALUES ($1, $2)
		ON CONFLICT (ndc) DO UPDATE SET on_hand = EXCLUDED.on_hand, updated_at = NOW()
	`, ndc, onHand)
	return err
}

func (t *txn) AdjustInventory(ctx context.Context, ndc string, delta float64) (float64, bool, error) {
	var onHand float64
	err := t.tx.QueryRow(ctx, `
		UPDATE inventory SET on_hand = on_hand + $2, updated_at = NOW()
		WHERE ndc = $1 AND on_hand + $2 >= 0
		RETURNING on_hand
	`, ndc, delta).Scan(&onHand)
	if err == nil {
		return onHand, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("adjust inventory: %w", err)
	}

	cur, tracked, err := t.GetInventory(ctx, ndc)
	if err != nil || !tracked {
		return 0, false, err
	}
	return cur, true, apperr.Precondition(apperr.CodeInsufficientStock,
		"ndc %s has %.2f on hand, %.2f requested", ndc, cur, -delta)
}

func (t *txn) AppendAudit(ctx context.Context, entries ...*audit.Entry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		doc, err := json.Marshal(e)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO audit_log (id, action, resource_type, resource_id, actor_id, doc, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.ID, string(e.Action), e.ResourceType, e.ResourceID, e.ActorID, doc, e.Timestamp)
	}
	return t.sendBatch(ctx, "append audit", batch)
}

func (t *txn) EnqueueEvent(ctx context.Context, topic string, ev *prescription.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return WriteEntry(ctx, t.tx, &OutboxEntry{
		AggregateID:   ev.AggregateID,
		AggregateType: ev.AggregateType,
		EventType:     string(ev.EventType),
		Payload:       payload,
		KafkaTopic:    topic,
		KafkaKey:      ev.AggregateID,
	})
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*txn)(nil)
)
