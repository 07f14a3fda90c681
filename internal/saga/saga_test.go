package saga

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mercato/orderflow/internal/saga/sagalog"
)

type memLog struct {
	mu      sync.Mutex
	entries []*sagalog.Entry
}

var _ sagalog.Repository = (*memLog)(nil)

func (m *memLog) Save(_ context.Context, e *sagalog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLog) GetLatest(_ context.Context, sagaID string) (*sagalog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].SagaID == sagaID {
			return m.entries[i], nil
		}
	}
	return nil, errors.New("not found")
}

type recordedStep struct {
	name        string
	failWith    error
	trace       *[]string
	compensated bool
}

func (s *recordedStep) Name() string { return s.name }

func (s *recordedStep) Execute(context.Context) error {
	*s.trace = append(*s.trace, "exec:"+s.name)
	return s.failWith
}

func (s *recordedStep) Compensate(context.Context) error {
	s.compensated = true
	*s.trace = append(*s.trace, "comp:"+s.name)
	return nil
}

func TestRunExecutesAllStepsInOrder(t *testing.T) {
	var trace []string
	steps := []Step{
		&recordedStep{name: "a", trace: &trace},
		&recordedStep{name: "b", trace: &trace},
	}
	journal := &memLog{}

	if err := NewOrchestrator("saga-1", steps, journal).Run(context.Background(), map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"exec:a", "exec:b"}
	for i, w := range want {
		if trace[i] != w {
			t.Fatalf("trace = %v", trace)
		}
	}

	latest, err := journal.GetLatest(context.Background(), "saga-1")
	if err != nil || latest.Status != sagalog.StatusCompleted {
		t.Fatalf("latest = %+v, %v", latest, err)
	}
	if journal.entries[0].Status != sagalog.StatusStarted || journal.entries[0].Payload == "" {
		t.Fatalf("first entry = %+v", journal.entries[0])
	}
}

func TestFailureCompensatesPrefixLIFO(t *testing.T) {
	var trace []string
	boom := errors.New("step c exploded")
	a := &recordedStep{name: "a", trace: &trace}
	b := &recordedStep{name: "b", trace: &trace}
	c := &recordedStep{name: "c", trace: &trace, failWith: boom}
	journal := &memLog{}

	err := NewOrchestrator("saga-2", []Step{a, b, c}, journal).Run(context.Background(), nil)
	// The step error must surface unchanged for errors.Is branching.
	if !errors.Is(err, boom) {
		t.Fatalf("Run returned %v, want the step error", err)
	}

	want := []string{"exec:a", "exec:b", "exec:c", "comp:b", "comp:a"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v", trace)
	}
	for i, w := range want {
		if trace[i] != w {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
	if c.compensated {
		t.Fatal("the failing step itself must not be compensated")
	}

	latest, _ := journal.GetLatest(context.Background(), "saga-2")
	if latest.Status != sagalog.StatusFailed {
		t.Fatalf("latest status = %s", latest.Status)
	}
}

func TestNilJournalIsSafe(t *testing.T) {
	var trace []string
	steps := []Step{&recordedStep{name: "only", trace: &trace}}
	if err := NewOrchestrator("saga-3", steps, nil).Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
