package app

import (
	"errors"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/ports"
)

var (
	ErrNotFound = ports.ErrNotFound
	ErrConflict = ports.ErrConflict

	// ErrInvalidState: avance demandée sans air time, ou série hors "watching".
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
)

// CodedError porte un code stable renvoyé tel quel par l'API.
//
// Exemples de codes: invalid_field, no_air_date, not_watching, schedule_changed.
type CodedError struct {
	Code    string
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *CodedError) Unwrap() error { return e.Err }

func invalidField(msg string) error {
	return &CodedError{Code: "invalid_field", Message: msg, Err: ErrValidation}
}

// StaleScheduleError: l'état de planning lu (air time, total) ne correspond plus à l'état stocké.
// Current est l'état serveur à adopter.
type StaleScheduleError struct {
	Current SeriesDTO
}

func (e *StaleScheduleError) Error() string {
	return "schedule changed since it was read"
}

func (e *StaleScheduleError) Unwrap() error { return ErrConflict }
