package restruct

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Usage counts the tokens a model call consumed.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

func (u Usage) IsZero() bool { return u == Usage{} }

// Stage is a step of a request's lifecycle. A failed attempt records the stage
// it failed in.
type Stage int

const (
	StagePending Stage = iota
	StageRequesting
	StageExtracting
	StageParsing
	StageDeserializing
	StageValidating
	StageSucceeded
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageRequesting:
		return "requesting"
	case StageExtracting:
		return "extracting"
	case StageParsing:
		return "parsing"
	case StageDeserializing:
		return "deserializing"
	case StageValidating:
		return "validating"
	case StageSucceeded:
		return "succeeded"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Attempt records one model call and what became of its output. Attempts are
// stored by value and not modified after they are recorded.
type Attempt struct {
	Index     int
	Request   []*Message // conversation as sent
	Raw       string
	ToolCalls []ToolCall
	Extracted *ExtractedContent
	Parsed    *ParsedValue
	Hydrated  *Hydrated
	Verdict   *Verdict
	Stage     Stage // StageSucceeded, or the stage that failed
	Err       error
	Usage     Usage
	Finalized bool
	Started   time.Time
	Duration  time.Duration
}

// Failed reports whether the attempt did not produce a valid value.
func (a Attempt) Failed() bool { return a.Err != nil }

// AttemptHistory is the ordered record of a request's attempts. It is owned by
// one request and is not safe for concurrent mutation.
type AttemptHistory struct {
	id       string
	attempts []Attempt
}

func newAttemptHistory() *AttemptHistory {
	return &AttemptHistory{id: uuid.NewString()}
}

// ID identifies the request in logs and metrics.
func (h *AttemptHistory) ID() string { return h.id }

func (h *AttemptHistory) record(a Attempt) { h.attempts = append(h.attempts, a) }

func (h *AttemptHistory) Len() int { return len(h.attempts) }

// Attempts returns a copy of the recorded attempts in order.
func (h *AttemptHistory) Attempts() []Attempt {
	out := make([]Attempt, len(h.attempts))
	copy(out, h.attempts)
	return out
}

func (h *AttemptHistory) Last() (Attempt, bool) {
	if len(h.attempts) == 0 {
		return Attempt{}, false
	}
	return h.attempts[len(h.attempts)-1], true
}

// Finalized returns the attempt whose value was accepted, if any.
func (h *AttemptHistory) Finalized() (Attempt, bool) {
	for _, a := range h.attempts {
		if a.Finalized {
			return a, true
		}
	}
	return Attempt{}, false
}

// TotalUsage sums usage over every attempt, failed ones included.
func (h *AttemptHistory) TotalUsage() Usage {
	var u Usage
	for _, a := range h.attempts {
		u = u.Add(a.Usage)
	}
	return u
}

// FinalizedUsage is the usage of the accepted attempt alone.
func (h *AttemptHistory) FinalizedUsage() Usage {
	a, _ := h.Finalized()
	return a.Usage
}

// AttemptError is one attempt's failure inside an AggregateFailure.
type AttemptError struct {
	Index int
	Stage Stage
	Err   error
}

// AggregateFailure is returned when every attempt failed.
type AggregateFailure struct {
	RequestID string
	Errors    []AttemptError
}

func newAggregateFailure(h *AttemptHistory) *AggregateFailure {
	f := &AggregateFailure{RequestID: h.id}
	for _, a := range h.attempts {
		f.Errors = append(f.Errors, AttemptError{Index: a.Index, Stage: a.Stage, Err: a.Err})
	}
	return f
}

func (e *AggregateFailure) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ae := range e.Errors {
		parts[i] = fmt.Sprintf("attempt %d (%s): %v", ae.Index, ae.Stage, ae.Err)
	}
	return fmt.Sprintf("all %d attempts failed: %s", len(e.Errors), strings.Join(parts, "; "))
}

// Unwrap exposes every attempt's error to errors.Is and errors.As.
func (e *AggregateFailure) Unwrap() []error {
	out := make([]error, 0, len(e.Errors))
	for _, ae := range e.Errors {
		if ae.Err != nil {
			out = append(out, ae.Err)
		}
	}
	return out
}
