// Package cost tracks token and dollar usage per role and operation,
// and produces the pure estimates routing decisions consume.
package cost

import (
	"sync"
)

// Default accounting rates. Tracked cost defaults to tokens times
// perTokenRate; routing estimates use kiloUnitRate per 1000 complexity
// units.
const (
	perTokenRate = 0.000002
	kiloUnitRate = 0.002
)

// Event is one append-only usage record.
type Event struct {
	Role      string  `json:"role"`
	Operation string  `json:"operation"`
	Tokens    int     `json:"tokens"`
	Cost      float64 `json:"cost"`
	Model     string  `json:"model,omitempty"`
	Estimated bool    `json:"estimated,omitempty"`
}

// Summary is a read-only snapshot of accumulated usage.
type Summary struct {
	Tokens    int     `json:"tokens"`
	TotalCost float64 `json:"total_cost"`
	Events    []Event `json:"events"`
}

// TrackOption adjusts a single tracked event.
type TrackOption func(*Event)

// WithCost overrides the derived cost for one event.
func WithCost(cost float64) TrackOption {
	return func(e *Event) {
		e.Cost = cost
	}
}

// WithModel tags the event with the model that served it.
func WithModel(model string) TrackOption {
	return func(e *Event) {
		e.Model = model
	}
}

// Estimator accumulates cost events. Safe for concurrent use; one
// instance per run gives per-run summaries, a shared instance gives
// global accounting.
type Estimator struct {
	mu     sync.Mutex
	tokens int
	total  float64
	events []Event
}

// NewEstimator returns an empty estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Track appends a usage event. Negative token counts are clamped to
// zero. Cost defaults to tokens * perTokenRate unless WithCost is
// given.
func (e *Estimator) Track(role, operation string, tokens int, opts ...TrackOption) {
	e.track(role, operation, tokens, false, opts...)
}

// TrackEstimated appends a usage event flagged as an estimate, for
// overhead that is not a real provider call (prompt enhancements,
// routing probes).
func (e *Estimator) TrackEstimated(role, operation string, tokens int, opts ...TrackOption) {
	e.track(role, operation, tokens, true, opts...)
}

func (e *Estimator) track(role, operation string, tokens int, estimated bool, opts ...TrackOption) {
	if tokens < 0 {
		tokens = 0
	}

	event := Event{
		Role:      role,
		Operation: operation,
		Tokens:    tokens,
		Cost:      float64(tokens) * perTokenRate,
		Estimated: estimated,
	}
	for _, opt := range opts {
		opt(&event)
	}
	if event.Cost < 0 {
		event.Cost = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens += event.Tokens
	e.total += event.Cost
	e.events = append(e.events, event)
}

// Estimate returns the projected cost of a task with the given
// complexity (typically its text length). Pure: calling it does not
// record an event, and repeated calls with the same input return the
// same value. The domain parameter is accepted for per-domain rates;
// every domain currently shares kiloUnitRate.
func (e *Estimator) Estimate(complexity int, _ string) float64 {
	if complexity < 1 {
		complexity = 1
	}
	return float64(complexity) / 1000.0 * kiloUnitRate
}

// Summary returns a deep-copied snapshot. Mutating the returned value
// never affects the estimator, and recomputing it never changes
// totals.
func (e *Estimator) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	events := make([]Event, len(e.events))
	copy(events, e.events)

	return Summary{
		Tokens:    e.tokens,
		TotalCost: e.total,
		Events:    events,
	}
}
