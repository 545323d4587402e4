package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionUpdate       Action = "UPDATE"
	ActionUpdateStatus Action = "UPDATE_STATUS"
	ActionDelete       Action = "DELETE_APPOINTMENT"
)

// Entry is an immutable record of an accepted mutation. It is written for
// forensic reconstruction and never read back for scheduling decisions.
type Entry struct {
	ID            int64           `json:"id"`
	ActorID       string          `json:"actor_id"`
	Action        Action          `json:"action"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	Details       json.RawMessage `json:"details,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Snapshot holds the salient appointment fields captured with an entry.
type Snapshot struct {
	PatientName     string    `json:"patientName,omitempty"`
	PatientID       uuid.UUID `json:"patientId"`
	DoctorID        uuid.UUID `json:"doctorId"`
	ScheduledAt     time.Time `json:"scheduledAt"`
	DurationMinutes int       `json:"durationMinutes"`
	Status          string    `json:"status"`
}

// Sink is append-only. Append sets e.ID once the entry is durable, which
// for a transactional sink is no later than commit.
type Sink interface {
	Append(ctx context.Context, e *Entry) error
}

type Reader interface {
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Entry, error)
}
