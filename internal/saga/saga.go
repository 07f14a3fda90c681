// Package saga runs the side-effecting tail of order placement as a sequence
// of compensable steps. If a step fails, every previously successful step is
// compensated in LIFO order and the original step error is returned to the
// caller unchanged, so typed errors survive for errors.Is/As branching.
package saga

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mercato/orderflow/internal/saga/sagalog"
)

// Step is a single unit of work with a compensating action that undoes its
// effects.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Orchestrator executes steps sequentially and journals every transition.
type Orchestrator struct {
	sagaID  string
	steps   []Step
	journal sagalog.Repository // nil-safe: journaling skipped if nil
}

// NewOrchestrator builds a saga keyed by sagaID (the order id, so journal
// rows join with business data and the active trace).
func NewOrchestrator(sagaID string, steps []Step, journal sagalog.Repository) *Orchestrator {
	return &Orchestrator{sagaID: sagaID, steps: steps, journal: journal}
}

// Run executes the steps. On failure it rolls back the successful prefix and
// returns the failing step's error as-is.
func (o *Orchestrator) Run(ctx context.Context, payload any) error {
	o.log(ctx, sagalog.StatusStarted, "", payload, nil)

	var done []Step
	for _, step := range o.steps {
		slog.InfoContext(ctx, "executing saga step", "saga_id", o.sagaID, "step", step.Name())
		if err := step.Execute(ctx); err != nil {
			slog.ErrorContext(ctx, "saga step failed, rolling back",
				"saga_id", o.sagaID, "step", step.Name(), "error", err)
			errs := []string{step.Name() + ": " + err.Error()}
			o.log(ctx, sagalog.StatusCompensating, step.Name(), nil, errs)
			errs = append(errs, o.rollback(ctx, done)...)
			o.log(ctx, sagalog.StatusFailed, step.Name(), nil, errs)
			return err
		}
		done = append(done, step)
		o.log(ctx, sagalog.StatusStepDone, step.Name(), nil, nil)
	}

	o.log(ctx, sagalog.StatusCompleted, "", nil, nil)
	return nil
}

// rollback compensates the successful steps in reverse order. Compensation
// failures are collected, never allowed to mask the original error.
func (o *Orchestrator) rollback(ctx context.Context, steps []Step) []string {
	var errs []string
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		slog.InfoContext(ctx, "compensating saga step", "saga_id", o.sagaID, "step", step.Name())
		if err := step.Compensate(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to compensate saga step",
				"saga_id", o.sagaID, "step", step.Name(), "error", err)
			errs = append(errs, "compensate "+step.Name()+": "+err.Error())
		}
	}
	return errs
}

func (o *Orchestrator) log(ctx context.Context, status sagalog.Status, step string, payload any, errs []string) {
	if o.journal == nil {
		return
	}
	body := ""
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			body = string(raw)
		}
	}
	entry := sagalog.NewEntry(ctx, o.sagaID, status, step, body, errs)
	if err := o.journal.Save(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "failed to write saga log entry",
			"saga_id", o.sagaID, "status", status, "error", err)
	}
}
