package agenda

import (
	"errors"
	"time"
)

// Status is the display state of an agenda event. It follows the clock:
// upcoming events become "aujourd'hui" on their day and "terminé" once
// their end passes, unless cancelled by hand.
type Status string

const (
	StatusUpcoming  Status = "à venir"
	StatusToday     Status = "aujourd'hui"
	StatusFinished  Status = "terminé"
	StatusCancelled Status = "annulé"
)

// Event is one agenda entry, optionally tied to an intervention.
type Event struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	InterventionID *int64    `json:"intervention_id,omitempty"`
	EmployeeID     *int64    `json:"employee_id,omitempty"`
	Status         Status    `json:"status"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

var (
	// ErrInvalidRange indicates an event ending before it starts.
	ErrInvalidRange = errors.New("agenda: event ends before it starts")
	// ErrTitleRequired indicates a missing title.
	ErrTitleRequired = errors.New("agenda: title required")
)

// StatusFor derives the clock-driven status of an event at the given
// instant. Cancelled events keep their status.
func StatusFor(e Event, now time.Time) Status {
	if e.Status == StatusCancelled {
		return StatusCancelled
	}
	if e.EndsAt.Before(now) {
		return StatusFinished
	}
	y1, m1, d1 := e.StartsAt.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return StatusToday
	}
	return StatusUpcoming
}
