package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/audit"
)

func newAppt(doctorID uuid.UUID, start time.Time, minutes int) *Appointment {
	return &Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		DoctorID:        doctorID,
		ScheduledAt:     start,
		DurationMinutes: minutes,
		Status:          StatusScheduled,
	}
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.Insert(ctx, newAppt(uuid.New(), day, 30))
		require.NoError(t, err)
		require.NoError(t, tx.Append(ctx, &audit.Entry{AppointmentID: a.ID, Action: audit.ActionCreate}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	appts, err := store.ListAppointments(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, appts)
	assert.Empty(t, store.entries)
}

func TestMemoryStore_CommitRechecksOverlap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	doctorID := uuid.New()

	err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.Insert(ctx, newAppt(doctorID, day.Add(9*time.Hour), 30))
		require.NoError(t, err)

		// a competing unit commits an overlapping slot first
		inner := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.Insert(ctx, newAppt(doctorID, day.Add(9*time.Hour+15*time.Minute), 30))
			return err
		})
		require.NoError(t, inner)
		return nil
	})
	assert.ErrorIs(t, err, ErrSlotConflict)

	appts, err := store.ListAppointments(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestMemoryStore_StagedView(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	doctorID := uuid.New()
	existing := newAppt(doctorID, day.Add(9*time.Hour), 30)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.Insert(ctx, existing)
		return err
	}))

	err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		found, err := tx.FindOverlapping(ctx, doctorID, day.Add(9*time.Hour), day.Add(10*time.Hour), nil)
		require.NoError(t, err)
		require.Len(t, found, 1)

		found, err = tx.FindOverlapping(ctx, doctorID, day.Add(9*time.Hour), day.Add(10*time.Hour), &existing.ID)
		require.NoError(t, err)
		assert.Empty(t, found)

		require.NoError(t, tx.Delete(ctx, existing.ID))

		_, err = tx.GetForUpdate(ctx, existing.ID)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)

		found, err = tx.FindOverlapping(ctx, doctorID, day.Add(9*time.Hour), day.Add(10*time.Hour), nil)
		require.NoError(t, err)
		assert.Empty(t, found)

		_, err = tx.Update(ctx, existing)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
		return nil
	})
	require.NoError(t, err)

	_, err = store.GetAppointmentByID(ctx, existing.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestMemoryStore_FindOverdue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	doctorID := uuid.New()

	old := newAppt(doctorID, day.Add(8*time.Hour), 30)
	cancelled := newAppt(doctorID, day.Add(9*time.Hour), 30)
	cancelled.Status = StatusCancelled
	fresh := newAppt(doctorID, day.Add(11*time.Hour), 30)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, a := range []*Appointment{old, cancelled, fresh} {
			if _, err := tx.Insert(ctx, a); err != nil {
				return err
			}
		}
		return nil
	}))

	overdue, err := store.FindOverdue(ctx, day.Add(10*time.Hour), []Status{StatusScheduled, StatusConfirmed})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, old.ID, overdue[0].ID)
}
