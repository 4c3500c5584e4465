package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/metrics"
)

// Executor drives a Task's declarative step sequence against a ToolInvoker:
// render each step's input, invoke its tool, and record the outcome.
type Executor struct {
	invoker ToolInvoker
	logger  *slog.Logger
}

func NewExecutor(invoker ToolInvoker, logger *slog.Logger) *Executor {
	return &Executor{invoker: invoker, logger: logger.With("component", "pipeline")}
}

type environment struct {
	Params json.RawMessage       `json:"params"`
	Steps  map[string]stepRecord `json:"steps"`
	Now    string                `json:"now"`
	Today  string                `json:"today"`
}

type stepRecord struct {
	Output json.RawMessage `json:"output"`
}

// Run executes every step of t.Pipeline in order against the given firing
// payload, stopping at the first step that doesn't produce Ok. It has no Go
// error return: every failure, including bad task data that cannot be
// rendered, is carried in the returned Result.
func (e *Executor) Run(ctx context.Context, t *domain.Task, payload json.RawMessage) *Result {
	now := time.Now().UTC()
	env := environment{
		Params: payload,
		Steps:  make(map[string]stepRecord, len(t.Pipeline.Steps)),
		Now:    now.Format(time.RFC3339),
		Today:  now.Format("2006-01-02"),
	}

	var lastOutput json.RawMessage

	for idx, step := range t.Pipeline.Steps {
		envBytes, err := json.Marshal(env)
		if err != nil {
			return &Result{Success: false, Kind: Terminal, Err: fmt.Errorf("marshal environment: %w", err)}
		}

		renderedInput, err := renderInput(step.Input, envBytes)
		if err != nil {
			stepIdx := idx
			stepID := step.ID
			return &Result{
				Success:   false,
				Kind:      Terminal,
				StepIndex: &stepIdx,
				StepID:    &stepID,
				Err:       fmt.Errorf("render step %s: %w", step.ID, err),
			}
		}

		timeout := time.Duration(step.TimeoutSeconds) * time.Second
		outcome := e.invokeStep(ctx, step.Tool, renderedInput, timeout)

		switch outcome.Kind {
		case Ok:
			env.Steps[step.ID] = stepRecord{Output: outcome.Output}
			if step.SaveAs != "" {
				env.Steps[step.SaveAs] = stepRecord{Output: outcome.Output}
			}
			lastOutput = outcome.Output

		case Retry:
			stepIdx := idx
			stepID := step.ID
			e.logger.WarnContext(ctx, "step retryable failure", "task_id", t.ID, "step_id", step.ID, "error", outcome.Err)
			return &Result{Success: false, Kind: Retry, StepIndex: &stepIdx, StepID: &stepID, Err: outcome.Err, Output: lastOutput}

		case Terminal:
			stepIdx := idx
			stepID := step.ID
			e.logger.ErrorContext(ctx, "step terminal failure", "task_id", t.ID, "step_id", step.ID, "error", outcome.Err)
			return &Result{Success: false, Kind: Terminal, StepIndex: &stepIdx, StepID: &stepID, Err: outcome.Err, Output: lastOutput}
		}
	}

	return &Result{Success: true, Kind: Ok, Output: buildOutput(lastOutput, env.Steps)}
}

// buildOutput assembles the persisted run output: the last step's response
// fields at the top level plus a "steps" map exposing every recorded
// binding's raw value directly (not nested under its own "output" key), so
// callers can read output.steps.<id>.<field> without knowing the internal
// environment representation.
func buildOutput(lastOutput json.RawMessage, steps map[string]stepRecord) json.RawMessage {
	merged := map[string]json.RawMessage{}
	if len(lastOutput) > 0 {
		_ = json.Unmarshal(lastOutput, &merged)
	}

	stepValues := make(map[string]json.RawMessage, len(steps))
	for id, rec := range steps {
		stepValues[id] = rec.Output
	}
	stepsJSON, err := json.Marshal(stepValues)
	if err != nil {
		stepsJSON = json.RawMessage(`{}`)
	}
	merged["steps"] = stepsJSON

	out, err := json.Marshal(merged)
	if err != nil {
		return lastOutput
	}
	return out
}

// invokeStep calls the tool and classifies the result into an Outcome, the
// single place that translates a raw invocation error into retryable vs
// terminal.
func (e *Executor) invokeStep(ctx context.Context, tool string, input json.RawMessage, timeout time.Duration) Outcome {
	start := time.Now()
	output, err := e.invoker.Invoke(ctx, tool, input, timeout)

	outcome := e.classify(ctx, tool, err, output)
	metrics.StepDuration.WithLabelValues(tool, outcome.Kind.String()).Observe(time.Since(start).Seconds())
	return outcome
}

func (e *Executor) classify(ctx context.Context, tool string, err error, output json.RawMessage) Outcome {
	if err == nil {
		return Outcome{Kind: Ok, Output: output}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Outcome{Kind: Retry, Err: fmt.Errorf("tool %s timed out: %w", tool, err)}
	}

	var retryable *RetryableHTTPError
	if errors.As(err, &retryable) {
		return Outcome{Kind: Retry, Err: err}
	}

	return Outcome{Kind: Terminal, Err: err}
}
