package appointment

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/audit"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// MemoryStore keeps appointments and audit entries in process. Writes made in
// a unit are staged and applied atomically on commit, after the overlap
// invariant is re-checked against the committed state.
type MemoryStore struct {
	mu          sync.RWMutex
	appts       map[uuid.UUID]Appointment
	entries     []audit.Entry
	nextEntryID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{appts: make(map[uuid.UUID]Appointment)}
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{store: m, staged: make(map[uuid.UUID]*Appointment)}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return m.commit(tx)
}

func (m *MemoryStore) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := make(map[uuid.UUID]Appointment, len(m.appts)+len(tx.staged))
	for id, a := range m.appts {
		merged[id] = a
	}
	for id, a := range tx.staged {
		if a == nil {
			delete(merged, id)
			continue
		}
		merged[id] = *a
	}

	for id, a := range tx.staged {
		if a == nil || !a.Status.OccupiesCalendar() {
			continue
		}
		for otherID, other := range merged {
			if otherID == id || other.DoctorID != a.DoctorID || !other.Status.OccupiesCalendar() {
				continue
			}
			if calendar.Overlaps(a.ScheduledAt, a.EndsAt(), other.ScheduledAt, other.EndsAt()) {
				return fmt.Errorf("%w: overlaps appointment %s", ErrSlotConflict, otherID)
			}
		}
	}

	m.appts = merged
	for _, e := range tx.entries {
		m.nextEntryID++
		e.ID = m.nextEntryID
		m.entries = append(m.entries, *e)
	}
	return nil
}

func (m *MemoryStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryStore) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	m.mu.RLock()
	var out []Appointment
	for _, a := range m.appts {
		if matches(a, f) {
			out = append(out, a)
		}
	}
	m.mu.RUnlock()

	sortBySchedule(out)

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) FindOverdue(ctx context.Context, cutoff time.Time, statuses []Status) ([]Appointment, error) {
	m.mu.RLock()
	var out []Appointment
	for _, a := range m.appts {
		if slices.Contains(statuses, a.Status) && a.EndsAt().Before(cutoff) {
			out = append(out, a)
		}
	}
	m.mu.RUnlock()

	sortBySchedule(out)
	return out, nil
}

func (m *MemoryStore) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []audit.Entry
	for _, e := range m.entries {
		if e.AppointmentID == appointmentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func matches(a Appointment, f ListFilter) bool {
	if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
		return false
	}
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.From != nil && a.ScheduledAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !a.ScheduledAt.Before(*f.To) {
		return false
	}
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	return true
}

func sortBySchedule(appts []Appointment) {
	slices.SortFunc(appts, func(a, b Appointment) int {
		if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
}

// memTx stages writes; a nil staged value marks a delete.
type memTx struct {
	store   *MemoryStore
	staged  map[uuid.UUID]*Appointment
	entries []*audit.Entry
}

func (t *memTx) get(id uuid.UUID) (*Appointment, bool) {
	if a, ok := t.staged[id]; ok {
		if a == nil {
			return nil, false
		}
		cp := *a
		return &cp, true
	}

	t.store.mu.RLock()
	a, ok := t.store.appts[id]
	t.store.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return &a, true
}

func (t *memTx) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	return ctx.Err()
}

func (t *memTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.get(id)
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a, nil
}

func (t *memTx) FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]Appointment, error) {
	t.store.mu.RLock()
	view := make(map[uuid.UUID]Appointment, len(t.store.appts))
	for id, a := range t.store.appts {
		view[id] = a
	}
	t.store.mu.RUnlock()

	for id, a := range t.staged {
		if a == nil {
			delete(view, id)
			continue
		}
		view[id] = *a
	}

	var out []Appointment
	for id, a := range view {
		if excludeID != nil && id == *excludeID {
			continue
		}
		if a.DoctorID != doctorID || !a.Status.OccupiesCalendar() {
			continue
		}
		if calendar.Overlaps(start, end, a.ScheduledAt, a.EndsAt()) {
			out = append(out, a)
		}
	}

	sortBySchedule(out)
	return out, nil
}

func (t *memTx) Insert(ctx context.Context, a *Appointment) (*Appointment, error) {
	if _, exists := t.get(a.ID); exists {
		return nil, fmt.Errorf("appointment %s already exists", a.ID)
	}
	cp := *a
	t.staged[a.ID] = &cp
	out := cp
	return &out, nil
}

func (t *memTx) Update(ctx context.Context, a *Appointment) (*Appointment, error) {
	if _, exists := t.get(a.ID); !exists {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	t.staged[a.ID] = &cp
	out := cp
	return &out, nil
}

func (t *memTx) Delete(ctx context.Context, id uuid.UUID) error {
	if _, exists := t.get(id); !exists {
		return ErrAppointmentNotFound
	}
	t.staged[id] = nil
	return nil
}

func (t *memTx) Append(ctx context.Context, e *audit.Entry) error {
	t.entries = append(t.entries, e)
	return nil
}
