// Package sagalog is the durable audit trail of placement saga transitions.
// Each row is an immutable event; the latest row per saga id gives the
// current state. It exists for observability (join a saga with its
// distributed trace via trace_id) and recovery (resume or compensate sagas
// in flight when the process died).
package sagalog

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Status is the lifecycle state of a saga execution.
type Status string

const (
	StatusStarted      Status = "STARTED"
	StatusStepDone     Status = "STEP_DONE"
	StatusCompleted    Status = "COMPLETED"
	StatusCompensating Status = "COMPENSATING"
	StatusFailed       Status = "FAILED"
)

// Entry is a point-in-time snapshot of a saga execution.
type Entry struct {
	// SagaID is the order id, so the log joins with business data.
	SagaID string

	Status Status

	// CurrentStep names the step that just executed or failed.
	CurrentStep string

	// Payload is the JSON-serialised input, written once on STARTED.
	Payload string

	// ErrorMessages is a JSON array of failure details, one per failed
	// step or compensation.
	ErrorMessages string

	// TraceID/SpanID come from the OpenTelemetry span active when the
	// entry was written, linking the row to the full distributed trace.
	TraceID string
	SpanID  string

	UpdatedAt time.Time
}

// Repository persists saga log entries. The table is append-only; Save
// never upserts.
type Repository interface {
	Save(ctx context.Context, entry *Entry) error
	GetLatest(ctx context.Context, sagaID string) (*Entry, error)
}

// NewEntry builds an Entry with trace identifiers extracted from ctx. When
// no span is active (unit tests) the trace fields stay empty.
func NewEntry(ctx context.Context, sagaID string, status Status, currentStep, payload string, errs []string) *Entry {
	sc := trace.SpanFromContext(ctx).SpanContext()

	traceID, spanID := "", ""
	if sc.IsValid() {
		traceID = sc.TraceID().String()
		spanID = sc.SpanID().String()
	}

	errJSON := "[]"
	if len(errs) > 0 {
		if b, err := json.Marshal(errs); err == nil {
			errJSON = string(b)
		}
	}

	return &Entry{
		SagaID:        sagaID,
		Status:        status,
		CurrentStep:   currentStep,
		Payload:       payload,
		ErrorMessages: errJSON,
		TraceID:       traceID,
		SpanID:        spanID,
		UpdatedAt:     time.Now().UTC(),
	}
}
