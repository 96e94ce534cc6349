// Package chaos runs consistency experiments against a running lending
// API. An experiment checks a steady state, applies pressure (usually
// concurrent requests), samples its metrics while the system settles and
// then validates the hypothesis against the final observations.
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrSteadyStateInvalid = errors.New("steady state invalid")

type Experiment struct {
	Name       string
	Hypothesis string
	// Setup prepares fixtures before the steady state is checked.
	Setup       func(context.Context) error
	SteadyState []Metric
	Method      []Action
	Validation  []Assertion
	// Duration bounds the observation phase. Zero samples once.
	Duration time.Duration
	Interval time.Duration
}

// Metric is a measurable property of the system.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

type Action struct {
	Name    string
	Execute func(context.Context) error
}

type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	Experiment       string                 `json:"experiment"`
	StartTime        time.Time              `json:"start_time"`
	Duration         time.Duration          `json:"duration"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	Violations       []Violation            `json:"violations,omitempty"`
	Failed           []string               `json:"failed_assertions,omitempty"`
	Observations     map[string][]DataPoint `json:"observations"`
	Errors           []ErrorEvent           `json:"errors,omitempty"`
}

type Violation struct {
	Metric    string    `json:"metric"`
	Expected  Threshold `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Error     string    `json:"error"`
}

type Engine struct {
	tracer trace.Tracer
	logger *slog.Logger

	mu          sync.Mutex
	experiments []Experiment
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		tracer: otel.Tracer("lendinghub/chaos"),
		logger: logger.With("component", "chaos"),
	}
}

func (e *Engine) Register(exps ...Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exps...)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Run executes one experiment. The returned error is non-nil only when
// the experiment could not be carried out; a refuted hypothesis is
// reported through Result.HypothesisHeld.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.Run", trace.WithAttributes(
		attribute.String("experiment.name", exp.Name),
	))
	defer span.End()

	result := &Result{
		Experiment:   exp.Name,
		StartTime:    time.Now(),
		Observations: make(map[string][]DataPoint),
	}

	if exp.Setup != nil {
		if err := exp.Setup(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "setup failed")
			return result, fmt.Errorf("setup %s: %w", exp.Name, err)
		}
	}

	span.AddEvent("validating_steady_state")
	if violations := e.checkSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		return result, fmt.Errorf("%s: %w", exp.Name, ErrSteadyStateInvalid)
	}
	result.SteadyStateValid = true

	span.AddEvent("applying_method")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.Errors = append(result.Errors, ErrorEvent{Timestamp: time.Now(), Source: action.Name, Error: err.Error()})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing")
	e.observe(ctx, exp, result)

	span.AddEvent("validating_assertions")
	result.Failed = failedAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.Failed) == 0 && len(result.Violations) == 0
	result.Duration = time.Since(result.StartTime)

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

func (e *Engine) checkSteadyState(ctx context.Context, metrics []Metric) []Violation {
	var violations []Violation
	for _, m := range metrics {
		value, err := m.Query(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "steady state query failed", "metric", m.Name, "error", err)
			violations = append(violations, Violation{Metric: m.Name, Expected: m.Threshold, Actual: -1, Timestamp: time.Now()})
			continue
		}
		if !m.Threshold.Holds(value) {
			violations = append(violations, Violation{Metric: m.Name, Expected: m.Threshold, Actual: value, Timestamp: time.Now()})
		}
	}
	return violations
}

func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	sample := func() {
		for _, m := range exp.SteadyState {
			value, err := m.Query(ctx)
			now := time.Now()
			if err != nil {
				result.Errors = append(result.Errors, ErrorEvent{Timestamp: now, Source: m.Name, Error: err.Error()})
				continue
			}
			result.Observations[m.Name] = append(result.Observations[m.Name], DataPoint{Timestamp: now, Value: value})
			if !m.Threshold.Holds(value) {
				result.Violations = append(result.Violations, Violation{Metric: m.Name, Expected: m.Threshold, Actual: value, Timestamp: now})
			}
		}
	}

	sample()
	if exp.Duration <= 0 {
		return
	}

	interval := exp.Interval
	if interval <= 0 {
		interval = time.Second
	}
	observeCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-observeCtx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

// failedAssertions checks each assertion against the metric's last
// observation.
func failedAssertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		points := result.Observations[a.Metric]
		if len(points) == 0 || !a.Condition(points[len(points)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// RunAll runs every registered experiment in order, pausing between them.
func (e *Engine) RunAll(ctx context.Context, pause time.Duration) []*Result {
	exps := e.Experiments()
	var results []*Result
	for i, exp := range exps {
		e.logger.InfoContext(ctx, "running experiment",
			"index", i+1,
			"name", exp.Name,
			"hypothesis", exp.Hypothesis,
		)

		result, err := e.Run(ctx, exp)
		if err != nil {
			e.logger.ErrorContext(ctx, "experiment aborted", "name", exp.Name, "error", err)
		} else {
			e.logger.InfoContext(ctx, "experiment finished",
				"name", exp.Name,
				"hypothesis_held", result.HypothesisHeld,
				"violations", len(result.Violations),
				"failed_assertions", result.Failed,
				"duration", result.Duration,
			)
		}
		results = append(results, result)

		if pause > 0 && i < len(exps)-1 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(pause):
			}
		}
	}
	return results
}
