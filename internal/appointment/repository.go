package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/audit"
)

// Store holds appointment records. Mutations go through WithinTx so that the
// record write and its audit entry commit together or not at all.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)

	// Occupying appointments whose slot ended before cutoff.
	FindOverdue(ctx context.Context, cutoff time.Time, statuses []Status) ([]Appointment, error)

	audit.Reader
}

// Tx is a unit of work against the store. It is also the audit sink for the
// unit so that audit entries share its transaction.
type Tx interface {
	// LockDoctor serializes calendar writes for one doctor within the store.
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error

	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// FindOverlapping returns occupying appointments of doctorID whose slot
	// intersects [start, end), skipping excludeID when it is set.
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]Appointment, error)

	Insert(ctx context.Context, a *Appointment) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) (*Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error

	audit.Sink
}
