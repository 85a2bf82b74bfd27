package interventions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gestix-erp/gestix/internal/shared"
)

// LogEntry is one append-only line of an intervention's history.
type LogEntry struct {
	ID             int64     `json:"id"`
	InterventionID int64     `json:"intervention_id"`
	Action         string    `json:"action"`
	Details        string    `json:"details,omitempty"`
	ActorName      string    `json:"actor_name,omitempty"`
	At             time.Time `json:"at"`
}

// EventLog appends lifecycle entries to intervention_logs. Writes are
// best-effort: a failed append is logged locally and never interrupts the
// business operation that triggered it. Entries are never updated or
// deleted by the application.
type EventLog struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewEventLog constructs an EventLog.
func NewEventLog(pool *pgxpool.Pool, logger *slog.Logger) *EventLog {
	return &EventLog{pool: pool, logger: logger}
}

// Record appends one entry. It returns nothing; failures only surface in
// the application log.
func (l *EventLog) Record(ctx context.Context, entry LogEntry) {
	if l == nil || l.pool == nil {
		return
	}
	if err := l.append(ctx, entry); err != nil && l.logger != nil {
		l.logger.Warn("event log append failed",
			slog.Int64("intervention_id", entry.InterventionID),
			slog.String("action", entry.Action),
			slog.Any("error", err))
	}
}

func (l *EventLog) append(ctx context.Context, entry LogEntry) error {
	if entry.InterventionID == 0 || entry.Action == "" {
		return errors.New("event log requires intervention id and action")
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := l.pool.Exec(ctx, `INSERT INTO intervention_logs (intervention_id, action, details, actor_name, occurred_at)
VALUES ($1, $2, $3, $4, $5)`, entry.InterventionID, entry.Action, entry.Details, entry.ActorName, at)
	return err
}

// List returns the history of one intervention, oldest first.
func (l *EventLog) List(ctx context.Context, interventionID int64) ([]LogEntry, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, intervention_id, action, details, actor_name, occurred_at
FROM intervention_logs WHERE intervention_id=$1 ORDER BY occurred_at ASC, id ASC`, interventionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.InterventionID, &e.Action, &e.Details, &e.ActorName, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordCreated logs the creation of an intervention.
func (l *EventLog) RecordCreated(ctx context.Context, interventionID int64, title, actor string) {
	l.Record(ctx, LogEntry{
		InterventionID: interventionID,
		Action:         "création",
		Details:        fmt.Sprintf("Intervention « %s » créée", title),
		ActorName:      actor,
	})
}

// RecordStatusChange logs a status transition.
func (l *EventLog) RecordStatusChange(ctx context.Context, interventionID int64, from, to Status, actor string) {
	l.Record(ctx, LogEntry{
		InterventionID: interventionID,
		Action:         "changement de statut",
		Details:        fmt.Sprintf("Statut modifié : %s → %s", from, to),
		ActorName:      actor,
	})
}

// RecordInvoiceLinked logs the one-time invoice linkage.
func (l *EventLog) RecordInvoiceLinked(ctx context.Context, interventionID int64, invoiceNumber string, totalTTC float64, actor string) {
	l.Record(ctx, LogEntry{
		InterventionID: interventionID,
		Action:         "facturation",
		Details:        fmt.Sprintf("Facture %s générée (%s TTC)", invoiceNumber, shared.FormatEUR(totalTTC)),
		ActorName:      actor,
	})
}

// PunchKind identifies the four timesheet punch types.
type PunchKind string

const (
	PunchStartDay   PunchKind = "debut_journee"
	PunchEndDay     PunchKind = "fin_journee"
	PunchStartPause PunchKind = "debut_pause"
	PunchEndPause   PunchKind = "fin_pause"
)

var punchLabels = map[PunchKind]string{
	PunchStartDay:   "Début de journée",
	PunchEndDay:     "Fin de journée",
	PunchStartPause: "Début de pause",
	PunchEndPause:   "Fin de pause",
}

// KnownPunch reports whether the kind is one of the four punch types.
func KnownPunch(kind PunchKind) bool {
	_, ok := punchLabels[kind]
	return ok
}

// PunchDetail renders the human-readable detail for a punch, with the
// optional duration in minutes appended.
func PunchDetail(kind PunchKind, durationMinutes *int) string {
	label, ok := punchLabels[kind]
	if !ok {
		label = string(kind)
	}
	if durationMinutes != nil {
		return fmt.Sprintf("%s (%d min)", label, *durationMinutes)
	}
	return label
}

// RecordPunch logs a timesheet punch against the intervention.
func (l *EventLog) RecordPunch(ctx context.Context, interventionID int64, kind PunchKind, durationMinutes *int, actor string) {
	l.Record(ctx, LogEntry{
		InterventionID: interventionID,
		Action:         "pointage",
		Details:        PunchDetail(kind, durationMinutes),
		ActorName:      actor,
	})
}
