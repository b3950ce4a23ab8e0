package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/domain/willcall"
	"github.com/drfirst/go-rxworkflow/internal/store"
)

func seed(t *testing.T, s *Store) *prescription.Prescription {
	t.Helper()
	p := &prescription.Prescription{ID: "rx-1", Version: 1, State: prescription.StateIntake, PatientID: "pat-1", Priority: prescription.PriorityNormal}
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPrescription(ctx, p)
	}))
	return p
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := seed(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.GetPrescription(ctx, p.ID)
		require.NoError(t, err)
		h, err := cur.Transition(prescription.StateDataEntry, "tech-1", "", "", time.Now())
		require.NoError(t, err)
		require.NoError(t, tx.UpdatePrescription(ctx, cur, 1))
		require.NoError(t, tx.AppendHistory(ctx, h))

		got, err := tx.GetPrescription(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, prescription.StateDataEntry, got.State, "tx sees its own write")
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetPrescription(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, prescription.StateIntake, got.State)
	hist, err := s.ListHistory(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestUpdatePrescriptionVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := seed(t, s)

	p.Version = 2
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdatePrescription(ctx, p, 7)
	})
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s)

	got, err := s.GetPrescription(ctx, "rx-1")
	require.NoError(t, err)
	got.State = prescription.StateCancelled

	again, err := s.GetPrescription(ctx, "rx-1")
	require.NoError(t, err)
	assert.Equal(t, prescription.StateIntake, again.State)
}

func TestAdjustInventory(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetInventory(ctx, "00093505601", 30); err != nil {
			return err
		}
		onHand, tracked, err := tx.AdjustInventory(ctx, "00093505601", -20)
		require.NoError(t, err)
		assert.True(t, tracked)
		assert.Equal(t, 10.0, onHand)

		_, tracked, err = tx.AdjustInventory(ctx, "99999999999", -5)
		require.NoError(t, err)
		assert.False(t, tracked)

		_, _, err = tx.AdjustInventory(ctx, "00093505601", -11)
		assert.Equal(t, apperr.CodeInsufficientStock, apperr.CodeOf(err))
		return nil
	})
	require.NoError(t, err)

	onHand, _, err := s.GetInventory(ctx, "00093505601")
	require.NoError(t, err)
	assert.Equal(t, 10.0, onHand)
}

func TestBinsAreCopiedOnWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveBins(ctx, willcall.NewBins(2, now)...)
	}))

	bins, err := s.ListBins(ctx)
	require.NoError(t, err)
	require.Len(t, bins, 2)
	_, err = willcall.Place(bins, "pat-1", "rx-1", false, now)
	require.NoError(t, err)

	fresh, err := s.ListBins(ctx)
	require.NoError(t, err)
	assert.True(t, fresh[0].IsEmpty(), "uncommitted placement must not leak")
}

func TestOutboxDrain(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := seed(t, s)
	ev, err := prescription.NewEvent(p, prescription.EventPrescriptionCreated, prescription.CreatedData{PrescriptionID: p.ID}, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.EnqueueEvent(ctx, prescription.TopicWorkflowEvents, ev)
	}))

	assert.Len(t, s.Outbox(), 1)
	drained := s.DrainOutbox()
	require.Len(t, drained, 1)
	assert.Equal(t, p.ID, drained[0].Key)
	assert.Empty(t, s.Outbox())
}
