package appointment

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrForbidden           = errors.New("forbidden")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAppointmentLocked   = errors.New("appointment is in a terminal status")
	ErrSlotConflict        = errors.New("time slot is already booked")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// rejections pass through storeError untouched.
var rejections = []error{
	ErrForbidden,
	ErrAppointmentNotFound,
	ErrInvalidInput,
	ErrInvalidTransition,
	ErrAppointmentLocked,
	ErrSlotConflict,
	ErrStoreUnavailable,
}

// storeError classifies an infrastructure failure as ErrStoreUnavailable
// while keeping the cause in the chain.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, r := range rejections {
		if errors.Is(err, r) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s timed out: %w", ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
