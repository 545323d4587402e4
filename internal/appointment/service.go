package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/audit"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/events"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service is the only entry point for mutating appointments. Every accepted
// mutation commits together with exactly one audit entry.
type Service struct {
	store     Store
	locker    redisclient.Locker
	patients  directory.Patients
	policy    *access.Policy
	publisher events.Publisher
	cfg       config.Config
	log       zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func NewService(store Store, locker redisclient.Locker, patients directory.Patients, policy *access.Policy, cfg config.Config, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		locker:    locker,
		patients:  patients,
		policy:    policy,
		publisher: events.Nop{},
		cfg:       cfg,
		log:       log.With().Str("component", "scheduling").Logger(),
		now:       time.Now,
	}
	if s.cfg.ClinicLocation == nil {
		s.cfg.ClinicLocation = time.UTC
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Book places a new SCHEDULED appointment on the doctor's calendar.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (*Appointment, error) {
	if err := s.authorize(actor, access.ResourceAppointments, access.ActionCreate); err != nil {
		return nil, s.rejected("book", actor, uuid.Nil, err)
	}

	if req.PatientID == uuid.Nil {
		return nil, s.rejected("book", actor, uuid.Nil, invalidInput("patient id is required"))
	}
	if req.DoctorID == uuid.Nil {
		return nil, s.rejected("book", actor, uuid.Nil, invalidInput("doctor id is required"))
	}
	start, err := s.parseStart(req.ScheduledAt)
	if err != nil {
		return nil, s.rejected("book", actor, uuid.Nil, err)
	}
	duration := s.cfg.DefaultDurationMinutes
	if req.DurationMinutes != nil {
		duration = *req.DurationMinutes
	}
	if err := s.checkDuration(duration); err != nil {
		return nil, s.rejected("book", actor, uuid.Nil, err)
	}

	patientName, err := s.patientName(ctx, req.PatientID)
	if err != nil {
		return nil, s.rejected("book", actor, uuid.Nil, err)
	}

	var (
		created *Appointment
		entry   *audit.Entry
	)

	keys := []string{redisclient.DoctorKey(req.DoctorID)}
	err = s.locker.WithLocks(ctx, keys, func(lockCtx context.Context) error {
		return s.store.WithinTx(lockCtx, func(txCtx context.Context, tx Tx) error {
			if err := tx.LockDoctor(txCtx, req.DoctorID); err != nil {
				return err
			}

			end := calendar.SlotEnd(start, duration)
			if err := checkConflicts(txCtx, tx, req.DoctorID, start, end, nil); err != nil {
				return err
			}

			now := s.now()
			appt, err := tx.Insert(txCtx, &Appointment{
				ID:              uuid.New(),
				PatientID:       req.PatientID,
				DoctorID:        req.DoctorID,
				ScheduledAt:     start,
				DurationMinutes: duration,
				Status:          StatusScheduled,
				Notes:           req.Notes,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
			if err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}

			entry, err = s.appendAudit(txCtx, tx, actor, audit.ActionCreate, appt, patientName)
			if err != nil {
				return err
			}

			created = appt
			return nil
		})
	})
	if err != nil {
		return nil, s.rejected("book", actor, uuid.Nil, storeError("book", err))
	}

	s.accepted(ctx, entry)
	return created, nil
}

// Reschedule overwrites the schedule fields of a non-terminal appointment.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	if err := s.authorize(actor, access.ResourceAppointments, access.ActionUpdate); err != nil {
		return nil, s.rejected("reschedule", actor, id, err)
	}

	var newStart *time.Time
	if req.ScheduledAt != "" {
		start, err := s.parseStart(req.ScheduledAt)
		if err != nil {
			return nil, s.rejected("reschedule", actor, id, err)
		}
		newStart = &start
	}
	if req.DurationMinutes != nil {
		if err := s.checkDuration(*req.DurationMinutes); err != nil {
			return nil, s.rejected("reschedule", actor, id, err)
		}
	}

	current, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, s.rejected("reschedule", actor, id, storeError("load appointment", err))
	}
	if current.Status.IsTerminal() {
		return nil, s.rejected("reschedule", actor, id, fmt.Errorf("%w: status %s", ErrAppointmentLocked, current.Status))
	}

	doctorID := current.DoctorID
	if req.DoctorID != uuid.Nil {
		doctorID = req.DoctorID
	}
	patientID := current.PatientID
	if req.PatientID != uuid.Nil {
		patientID = req.PatientID
	}

	patientName, err := s.patientName(ctx, patientID)
	if err != nil {
		return nil, s.rejected("reschedule", actor, id, err)
	}

	var (
		updated *Appointment
		entry   *audit.Entry
	)

	keys := []string{redisclient.AppointmentKey(id), redisclient.DoctorKey(doctorID)}
	err = s.locker.WithLocks(ctx, keys, func(lockCtx context.Context) error {
		return s.store.WithinTx(lockCtx, func(txCtx context.Context, tx Tx) error {
			appt, err := tx.GetForUpdate(txCtx, id)
			if err != nil {
				return err
			}
			if appt.Status.IsTerminal() {
				return fmt.Errorf("%w: status %s", ErrAppointmentLocked, appt.Status)
			}
			if req.DoctorID == uuid.Nil && appt.DoctorID != doctorID {
				return fmt.Errorf("%w: appointment %s moved to another doctor concurrently", ErrStoreUnavailable, id)
			}
			if req.PatientID == uuid.Nil && appt.PatientID != patientID {
				return errPatientMoved(id)
			}

			appt.PatientID = patientID
			appt.DoctorID = doctorID
			if newStart != nil {
				appt.ScheduledAt = *newStart
			}
			if req.DurationMinutes != nil {
				appt.DurationMinutes = *req.DurationMinutes
			}
			if req.Notes != nil {
				appt.Notes = *req.Notes
			}

			if err := tx.LockDoctor(txCtx, doctorID); err != nil {
				return err
			}
			if err := checkConflicts(txCtx, tx, doctorID, appt.ScheduledAt, appt.EndsAt(), &appt.ID); err != nil {
				return err
			}

			appt.UpdatedAt = s.now()
			saved, err := tx.Update(txCtx, appt)
			if err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}

			entry, err = s.appendAudit(txCtx, tx, actor, audit.ActionUpdate, saved, patientName)
			if err != nil {
				return err
			}

			updated = saved
			return nil
		})
	})
	if err != nil {
		return nil, s.rejected("reschedule", actor, id, storeError("reschedule", err))
	}

	s.accepted(ctx, entry)
	return updated, nil
}

// ChangeStatus moves an appointment along the transition table.
func (s *Service) ChangeStatus(ctx context.Context, actor Actor, id uuid.UUID, requested Status) (*Appointment, error) {
	if err := s.authorize(actor, access.ResourceAppointments, access.ActionUpdate); err != nil {
		return nil, s.rejected("change_status", actor, id, err)
	}

	patientID, patientName, err := s.currentPatient(ctx, id)
	if err != nil {
		return nil, s.rejected("change_status", actor, id, err)
	}

	var (
		updated *Appointment
		entry   *audit.Entry
	)

	err = s.locker.WithLocks(ctx, []string{redisclient.AppointmentKey(id)}, func(lockCtx context.Context) error {
		return s.store.WithinTx(lockCtx, func(txCtx context.Context, tx Tx) error {
			appt, err := tx.GetForUpdate(txCtx, id)
			if err != nil {
				return err
			}
			if appt.PatientID != patientID {
				return errPatientMoved(id)
			}

			next, err := Transition(appt.Status, requested)
			if err != nil {
				return err
			}

			appt.Status = next
			appt.UpdatedAt = s.now()
			saved, err := tx.Update(txCtx, appt)
			if err != nil {
				return fmt.Errorf("update status: %w", err)
			}

			entry, err = s.appendAudit(txCtx, tx, actor, audit.ActionUpdateStatus, saved, patientName)
			if err != nil {
				return err
			}

			updated = saved
			return nil
		})
	})
	if err != nil {
		return nil, s.rejected("change_status", actor, id, storeError("change status", err))
	}

	s.accepted(ctx, entry)
	return updated, nil
}

// Remove hard-deletes an appointment. The audit entry is written in the same
// transaction, ahead of the delete, and outlives the row.
func (s *Service) Remove(ctx context.Context, actor Actor, id uuid.UUID) error {
	if err := s.authorize(actor, access.ResourceAppointments, access.ActionDelete); err != nil {
		return s.rejected("remove", actor, id, err)
	}

	patientID, patientName, err := s.currentPatient(ctx, id)
	if err != nil {
		return s.rejected("remove", actor, id, err)
	}

	var entry *audit.Entry

	err = s.locker.WithLocks(ctx, []string{redisclient.AppointmentKey(id)}, func(lockCtx context.Context) error {
		return s.store.WithinTx(lockCtx, func(txCtx context.Context, tx Tx) error {
			appt, err := tx.GetForUpdate(txCtx, id)
			if err != nil {
				return err
			}
			if appt.PatientID != patientID {
				return errPatientMoved(id)
			}

			entry, err = s.appendAudit(txCtx, tx, actor, audit.ActionDelete, appt, patientName)
			if err != nil {
				return err
			}

			if err := tx.Delete(txCtx, id); err != nil {
				return fmt.Errorf("delete appointment: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return s.rejected("remove", actor, id, storeError("remove", err))
	}

	s.accepted(ctx, entry)
	return nil
}

func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	if err := s.authorize(actor, access.ResourceAppointments, access.ActionRead); err != nil {
		return nil, err
	}

	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, storeError("get appointment", err)
	}
	return appt, nil
}

// List returns appointments ordered by start time.
func (s *Service) List(ctx context.Context, actor Actor, f ListFilter) ([]Appointment, error) {
	if err := s.authorize(actor, access.ResourceAppointments, access.ActionRead); err != nil {
		return nil, err
	}

	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, invalidInput("from must be before to")
	}

	appts, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, storeError("list appointments", err)
	}
	return appts, nil
}

func (s *Service) AuditTrail(ctx context.Context, actor Actor, appointmentID uuid.UUID) ([]audit.Entry, error) {
	if err := s.authorize(actor, access.ResourceAudit, access.ActionRead); err != nil {
		return nil, err
	}

	entries, err := s.store.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, storeError("list audit entries", err)
	}
	return entries, nil
}

// SweepNoShows marks SCHEDULED and CONFIRMED appointments whose slot ended
// more than grace ago as NO_SHOW. Appointments that moved on concurrently are
// skipped. It returns the number of appointments marked.
func (s *Service) SweepNoShows(ctx context.Context, actor Actor, grace time.Duration) (int, error) {
	if err := s.authorize(actor, access.ResourceAppointments, access.ActionUpdate); err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-grace)
	overdue, err := s.store.FindOverdue(ctx, cutoff, []Status{StatusScheduled, StatusConfirmed})
	if err != nil {
		return 0, storeError("find overdue appointments", err)
	}

	var (
		marked int
		errs   []error
	)
	for _, appt := range overdue {
		_, err := s.ChangeStatus(ctx, actor, appt.ID, StatusNoShow)
		switch {
		case err == nil:
			marked++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAppointmentNotFound):
		default:
			errs = append(errs, fmt.Errorf("appointment %s: %w", appt.ID, err))
		}
	}

	return marked, errors.Join(errs...)
}

func (s *Service) authorize(actor Actor, resource access.Resource, action access.Action) error {
	if !s.policy.Allows(actor.Role, resource, action) {
		return fmt.Errorf("%w: role %q may not %s %s", ErrForbidden, actor.Role, action, resource)
	}
	return nil
}

func (s *Service) parseStart(raw string) (time.Time, error) {
	start, err := calendar.ParseTimestamp(raw, s.cfg.ClinicLocation)
	if err != nil {
		return time.Time{}, invalidInput("scheduled_at: %v", err)
	}
	if s.cfg.RejectPastBookings && start.Before(s.now()) {
		return time.Time{}, invalidInput("scheduled_at %s is in the past", start.Format(time.RFC3339))
	}
	return start, nil
}

func (s *Service) checkDuration(minutes int) error {
	if minutes < s.cfg.MinDurationMinutes || minutes > s.cfg.MaxDurationMinutes {
		return invalidInput("duration %d minutes outside %d-%d", minutes, s.cfg.MinDurationMinutes, s.cfg.MaxDurationMinutes)
	}
	return nil
}

// currentPatient resolves the patient of a stored appointment before any lock
// or transaction is taken. Directory lookups may share the store's pool.
func (s *Service) currentPatient(ctx context.Context, id uuid.UUID) (uuid.UUID, string, error) {
	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return uuid.Nil, "", storeError("load appointment", err)
	}
	name, err := s.patientName(ctx, appt.PatientID)
	if err != nil {
		return uuid.Nil, "", err
	}
	return appt.PatientID, name, nil
}

func errPatientMoved(id uuid.UUID) error {
	return fmt.Errorf("%w: appointment %s changed patient concurrently", ErrStoreUnavailable, id)
}

func (s *Service) patientName(ctx context.Context, id uuid.UUID) (string, error) {
	if s.patients == nil {
		return "", nil
	}

	name, err := s.patients.PatientName(ctx, id)
	if err != nil {
		if errors.Is(err, directory.ErrPatientNotFound) {
			return "", nil
		}
		return "", storeError("load patient name", err)
	}
	return name, nil
}

func checkConflicts(ctx context.Context, tx Tx, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) error {
	existing, err := tx.FindOverlapping(ctx, doctorID, start, end, excludeID)
	if err != nil {
		return fmt.Errorf("find overlapping: %w", err)
	}

	for _, other := range existing {
		if excludeID != nil && other.ID == *excludeID {
			continue
		}
		if other.Status.OccupiesCalendar() && calendar.Overlaps(start, end, other.ScheduledAt, other.EndsAt()) {
			return fmt.Errorf("%w: overlaps appointment %s at %s", ErrSlotConflict, other.ID, other.ScheduledAt.Format(time.RFC3339))
		}
	}
	return nil
}

func (s *Service) appendAudit(ctx context.Context, sink audit.Sink, actor Actor, action audit.Action, appt *Appointment, patientName string) (*audit.Entry, error) {
	details, err := json.Marshal(audit.Snapshot{
		PatientName:     patientName,
		PatientID:       appt.PatientID,
		DoctorID:        appt.DoctorID,
		ScheduledAt:     appt.ScheduledAt,
		DurationMinutes: appt.DurationMinutes,
		Status:          string(appt.Status),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal audit snapshot: %w", err)
	}

	entry := &audit.Entry{
		ActorID:       actor.ID,
		Action:        action,
		AppointmentID: appt.ID,
		Details:       details,
		UserAgent:     actor.UserAgent,
		CreatedAt:     s.now(),
	}
	if err := sink.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// accepted runs after commit, so entry.ID is set.
func (s *Service) accepted(ctx context.Context, entry *audit.Entry) {
	s.log.Info().
		Str("action", string(entry.Action)).
		Str("actor_id", entry.ActorID).
		Str("appointment_id", entry.AppointmentID.String()).
		Msg("appointment mutation committed")

	if err := s.publisher.Publish(ctx, *entry); err != nil {
		s.log.Warn().Err(err).
			Str("appointment_id", entry.AppointmentID.String()).
			Msg("failed to publish appointment event")
	}
}

func (s *Service) rejected(op string, actor Actor, id uuid.UUID, err error) error {
	evt := s.log.Debug()
	if errors.Is(err, ErrStoreUnavailable) {
		evt = s.log.Error()
	}

	evt = evt.Err(err).Str("op", op).Str("actor_id", actor.ID).Str("role", string(actor.Role))
	if id != uuid.Nil {
		evt = evt.Str("appointment_id", id.String())
	}
	evt.Msg("appointment operation rejected")

	return err
}
