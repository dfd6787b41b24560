package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgerline/ledgerline/internal/close"
	jobmetrics "github.com/ledgerline/ledgerline/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCloseRun executes the period-close orchestrator.
	TaskCloseRun = "close:run"
	// TaskRecurring generates due recurring journal entries.
	TaskRecurring = "ledger:recurring"
	// TaskIntegrity runs the nightly trial-balance integrity scan.
	TaskIntegrity = "ledger:integrity"
)

// CloseRunPayload identifies the period to close.
type CloseRunPayload struct {
	PeriodID  int64 `json:"period_id"`
	ActorID   int64 `json:"actor_id"`
	Permanent bool  `json:"permanent"`
}

// RecurringPayload bounds recurring generation.
type RecurringPayload struct {
	Through time.Time `json:"through"`
	ActorID int64     `json:"actor_id"`
}

// IntegrityPayload carries scheduling metadata.
type IntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewCloseRunTask constructs an Asynq task running the close orchestrator.
func NewCloseRunTask(payload CloseRunPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCloseRun, body, asynq.Queue(QueueDefault)), nil
}

// NewRecurringTask constructs an Asynq task generating recurring entries.
func NewRecurringTask(payload RecurringPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecurring, body, asynq.Queue(QueueDefault)), nil
}

// NewIntegrityTask constructs an Asynq task for the integrity scan.
func NewIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// CloseRunner is the close orchestrator surface the worker needs.
type CloseRunner interface {
	Run(ctx context.Context, in close.RunInput) (close.CloseResult, error)
	GenerateRecurring(ctx context.Context, through time.Time, actorID int64) (int, error)
}

// IntegrityScanner verifies ledger consistency.
type IntegrityScanner interface {
	Scan(ctx context.Context) error
}

// Handlers binds task types to ledger services.
type Handlers struct {
	Closer    CloseRunner
	Integrity IntegrityScanner
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// HandleCloseRun processes TaskCloseRun tasks. A blocked close is reported
// with every step error and retried by the queue.
func (h Handlers) HandleCloseRun(ctx context.Context, t *asynq.Task) error {
	var payload CloseRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := h.Metrics.Track(TaskCloseRun)
	result, err := h.Closer.Run(ctx, close.RunInput{
		PeriodID:  payload.PeriodID,
		ActorID:   payload.ActorID,
		Permanent: payload.Permanent,
	})
	if err != nil {
		for _, stepErr := range result.Errors {
			h.Logger.WarnContext(ctx, "close step failed",
				slog.Int64("period_id", payload.PeriodID),
				slog.String("step", stepErr.Step),
				slog.Any("error", stepErr.Err))
		}
		return tracker.End(fmt.Errorf("close period %d: %w", payload.PeriodID, err))
	}
	h.Logger.InfoContext(ctx, "close run finished",
		slog.Int64("period_id", result.PeriodID),
		slog.Bool("closed", result.Closed))
	return tracker.End(nil)
}

// HandleRecurring processes TaskRecurring tasks.
func (h Handlers) HandleRecurring(ctx context.Context, t *asynq.Task) error {
	var payload RecurringPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := h.Metrics.Track(TaskRecurring)
	through := payload.Through
	if through.IsZero() {
		through = time.Now().UTC()
	}
	posted, err := h.Closer.GenerateRecurring(ctx, through, payload.ActorID)
	if err != nil {
		return tracker.End(err)
	}
	h.Logger.InfoContext(ctx, "recurring entries generated",
		slog.Int("posted", posted),
		slog.Time("through", through))
	return tracker.End(nil)
}

// HandleIntegrity processes TaskIntegrity tasks.
func (h Handlers) HandleIntegrity(ctx context.Context, t *asynq.Task) error {
	var payload IntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := h.Metrics.Track(TaskIntegrity)
	if err := h.Integrity.Scan(ctx); err != nil {
		h.Logger.ErrorContext(ctx, "integrity scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	h.Logger.InfoContext(ctx, "integrity scan clean")
	return tracker.End(nil)
}

// Register attaches the ledger handlers to a mux.
func (h Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskCloseRun, h.HandleCloseRun)
	mux.HandleFunc(TaskRecurring, h.HandleRecurring)
	mux.HandleFunc(TaskIntegrity, h.HandleIntegrity)
}
