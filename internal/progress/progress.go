// Package progress tracks multi-step asynchronous operations so operators can
// see which step is running, finished or failed.
package progress

import (
	"fmt"
	"sync"
)

type Status int

const (
	NotStarted Status = iota
	InProgress
	IsSuccess
	IsError
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case InProgress:
		return "IN_PROGRESS"
	case IsSuccess:
		return "IS_SUCCESS"
	case IsError:
		return "IS_ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{NotStarted, InProgress, IsSuccess, IsError} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown step status %q", text)
}

// Step is one named stage of an operation.
type Step struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	Attempts    int    `json:"attempts"`
	Err         string `json:"error,omitempty"`
}

// Tracker holds an ordered step list. Steps move NOT_STARTED -> IN_PROGRESS ->
// IS_SUCCESS | IS_ERROR; a failed step may be started again.
type Tracker struct {
	mu          sync.Mutex
	operation   string
	steps       []Step
	subscribers []chan []Step
}

// NewTracker creates a tracker for steps given as name/description pairs.
func NewTracker(operation string, steps ...Step) *Tracker {
	t := &Tracker{operation: operation, steps: make([]Step, len(steps))}
	for i, s := range steps {
		t.steps[i] = Step{Name: s.Name, Description: s.Description}
	}
	return t
}

func (t *Tracker) Operation() string {
	return t.operation
}

// Subscribe returns a channel receiving a copy of the steps after every
// change. Slow subscribers miss intermediate updates, never the latest one
// they have room for.
func (t *Tracker) Subscribe(buffer int) <-chan []Step {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan []Step, buffer)
	t.mu.Lock()
	t.subscribers = append(t.subscribers, ch)
	t.mu.Unlock()
	return ch
}

// Close closes every subscription channel.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subscribers {
		close(ch)
	}
	t.subscribers = nil
}

func (t *Tracker) Start(name string) error {
	return t.transition(name, func(s *Step) error {
		if s.Status != NotStarted && s.Status != IsError {
			return fmt.Errorf("step %s cannot start from %s", name, s.Status)
		}
		s.Status = InProgress
		s.Attempts++
		s.Err = ""
		return nil
	})
}

// Retry records another attempt of a running step.
func (t *Tracker) Retry(name string, cause error) error {
	return t.transition(name, func(s *Step) error {
		if s.Status != InProgress {
			return fmt.Errorf("step %s is not running", name)
		}
		s.Attempts++
		if cause != nil {
			s.Err = cause.Error()
		}
		return nil
	})
}

func (t *Tracker) Succeed(name string) error {
	return t.transition(name, func(s *Step) error {
		if s.Status != InProgress {
			return fmt.Errorf("step %s cannot succeed from %s", name, s.Status)
		}
		s.Status = IsSuccess
		s.Err = ""
		return nil
	})
}

func (t *Tracker) Fail(name string, cause error) error {
	return t.transition(name, func(s *Step) error {
		if s.Status != InProgress {
			return fmt.Errorf("step %s cannot fail from %s", name, s.Status)
		}
		s.Status = IsError
		if cause != nil {
			s.Err = cause.Error()
		}
		return nil
	})
}

// Skip marks a step done without running it, used when a retried operation
// finds the step's effect already in place.
func (t *Tracker) Skip(name string) error {
	return t.transition(name, func(s *Step) error {
		if s.Status == IsSuccess {
			return nil
		}
		s.Status = IsSuccess
		s.Err = ""
		return nil
	})
}

// Snapshot returns a copy of the current steps.
func (t *Tracker) Snapshot() []Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copySteps()
}

// Done reports whether every step succeeded.
func (t *Tracker) Done() bool {
	for _, s := range t.Snapshot() {
		if s.Status != IsSuccess {
			return false
		}
	}
	return true
}

func (t *Tracker) copySteps() []Step {
	out := make([]Step, len(t.steps))
	copy(out, t.steps)
	return out
}

func (t *Tracker) transition(name string, fn func(*Step) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.steps {
		if t.steps[i].Name != name {
			continue
		}
		if err := fn(&t.steps[i]); err != nil {
			return err
		}
		snapshot := t.copySteps()
		for _, ch := range t.subscribers {
			select {
			case ch <- snapshot:
			default:
			}
		}
		return nil
	}
	return fmt.Errorf("unknown step %s", name)
}
