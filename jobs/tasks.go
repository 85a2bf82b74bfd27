package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeAgendaSweep is the periodic agenda status sweep.
	TaskTypeAgendaSweep = "agenda:close_elapsed"
	// TaskTypeIdempotencyCleanup prunes old idempotency keys.
	TaskTypeIdempotencyCleanup = "idempotency:cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// SMTP relay not wired yet; documents leave through the client export.
	slog.Info("envoi d'email", "to", payload.To, "subject", payload.Subject)
	return nil
}

// NewAgendaSweepTask constructs the agenda sweep task. The payload is
// empty; the handler works off the clock.
func NewAgendaSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeAgendaSweep, nil)
}

// AgendaSweeper advances clock-driven agenda statuses.
type AgendaSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// NewAgendaSweepHandler builds the handler for TaskTypeAgendaSweep. The
// closed counter may be nil.
func NewAgendaSweepHandler(sweeper AgendaSweeper, closed prometheus.Counter, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		n, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		if closed != nil && n > 0 {
			closed.Add(float64(n))
		}
		if logger != nil {
			logger.Info("agenda sweep done", slog.Int64("closed", n))
		}
		return nil
	}
}

// IdempotencyCleaner prunes processed keys past retention.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyRetention is how long processed keys are kept. Long enough
// that any legitimate retry of a guarded side effect still hits the key.
const IdempotencyRetention = 30 * 24 * time.Hour

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIdempotencyCleanup, nil)
}

// NewIdempotencyCleanupHandler builds the handler for key pruning.
func NewIdempotencyCleanupHandler(cleaner IdempotencyCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := cleaner.Cleanup(ctx, IdempotencyRetention); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("idempotency keys pruned")
		}
		return nil
	}
}
