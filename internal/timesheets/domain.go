package timesheets

import (
	"errors"
	"time"

	"github.com/gestix-erp/gestix/internal/interventions"
)

// Punch is one clock event of a technician's day. A punch may reference
// the intervention being worked on, in which case it also lands in that
// intervention's history.
type Punch struct {
	ID             int64                   `json:"id"`
	EmployeeID     int64                   `json:"employee_id"`
	InterventionID *int64                  `json:"intervention_id,omitempty"`
	Kind           interventions.PunchKind `json:"kind"`
	At             time.Time               `json:"at"`
	CreatedAt      time.Time               `json:"created_at"`
}

// DaySummary aggregates one employee day.
type DaySummary struct {
	EmployeeID    int64   `json:"employee_id"`
	Day           string  `json:"day"`
	WorkedMinutes int     `json:"worked_minutes"`
	PauseMinutes  int     `json:"pause_minutes"`
	Punches       []Punch `json:"punches"`
	Complete      bool    `json:"complete"`
}

var (
	// ErrUnknownKind indicates a punch kind outside the four known types.
	ErrUnknownKind = errors.New("timesheets: unknown punch kind")
	// ErrEmployeeRequired indicates a missing employee reference.
	ErrEmployeeRequired = errors.New("timesheets: employee required")
)

// Summarize derives worked and pause durations from a day's ordered
// punches. The day is complete when it both starts and ends; pauses
// subtract from the worked span.
func Summarize(employeeID int64, day string, punches []Punch) DaySummary {
	summary := DaySummary{EmployeeID: employeeID, Day: day, Punches: punches}

	var dayStart, dayEnd, pauseStart *time.Time
	for i := range punches {
		p := punches[i]
		switch p.Kind {
		case interventions.PunchStartDay:
			if dayStart == nil {
				t := p.At
				dayStart = &t
			}
		case interventions.PunchEndDay:
			t := p.At
			dayEnd = &t
		case interventions.PunchStartPause:
			t := p.At
			pauseStart = &t
		case interventions.PunchEndPause:
			if pauseStart != nil {
				summary.PauseMinutes += int(p.At.Sub(*pauseStart).Minutes())
				pauseStart = nil
			}
		}
	}

	if dayStart != nil && dayEnd != nil {
		summary.Complete = true
		total := int(dayEnd.Sub(*dayStart).Minutes())
		summary.WorkedMinutes = total - summary.PauseMinutes
		if summary.WorkedMinutes < 0 {
			summary.WorkedMinutes = 0
		}
	}
	return summary
}
