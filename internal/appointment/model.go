package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

type Appointment struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          Status    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EndsAt is the exclusive end of the slot the appointment occupies.
func (a *Appointment) EndsAt() time.Time {
	return calendar.SlotEnd(a.ScheduledAt, a.DurationMinutes)
}

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	ID        string
	Role      access.Role
	UserAgent string
}

type BookRequest struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	ScheduledAt     string
	DurationMinutes *int
	Notes           string
}

// RescheduleRequest overwrites the mutable fields of an appointment. Zero ids,
// a blank ScheduledAt and a nil DurationMinutes keep the stored value.
type RescheduleRequest struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	ScheduledAt     string
	DurationMinutes *int
	Notes           *string
}

type ListFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	From      *time.Time
	To        *time.Time
	Status    *Status
	Limit     int
	Offset    int
}
