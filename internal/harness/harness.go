package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/roundhouse-dev/roundhouse/internal/engine"
	"github.com/roundhouse-dev/roundhouse/internal/metadata"
	"github.com/roundhouse-dev/roundhouse/internal/module"
)

// runTimeout bounds a scenario run; a scenario that takes this long has
// deadlocked or leaked work.
const runTimeout = 10 * time.Second

// Run executes a scenario against a fresh engine: register the recorder
// modules, run the engine on its own goroutine, drive the steps, trigger
// exit, and evaluate the assertions against the recorded trace.
//
// A returned error means the run itself broke (engine failure, timeout).
// Expectation and assertion failures land in Result.Errors instead.
func Run(scenario *Scenario) (*Result, error) {
	trace := NewTrace()
	eng := engine.New(engine.WithTokenGenerator(&metadata.SequenceGenerator{}))
	for _, spec := range scenario.Modules {
		eng.Register(spec.Name, newRecorder(spec, trace))
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	result := NewResult()
	for i, step := range scenario.Steps {
		runStep(ctx, eng, i, step, result)
	}

	md := metadata.New(eng.Tokens(), nil, "harness")
	if err := eng.TriggerEvent(ctx, "exit", md, nil); err != nil {
		cancel()
		<-runErr
		return nil, fmt.Errorf("trigger exit: %w", err)
	}
	if err := <-runErr; err != nil {
		return nil, fmt.Errorf("engine run: %w", err)
	}

	result.Trace = trace.Events()
	checkAssertions(scenario, result)
	return result, nil
}

// runStep drives one synchronous dispatch operation and validates its
// outcome against the step's expectations.
func runStep(ctx context.Context, eng *engine.Engine, i int, step Step, result *Result) {
	md := metadata.New(eng.Tokens(), nil, "harness")

	if step.Broadcast != "" {
		err := eng.BroadcastEventSync(ctx, step.Broadcast, md, module.Args(step.Args))
		checkStepError(i, step, err, result)
		return
	}

	reply, err := eng.ExecTask(ctx, step.Call, md, module.Args(step.Args))
	if !checkStepError(i, step, err, result) {
		return
	}
	if step.Expect != nil && !reflect.DeepEqual(reply, step.Expect.Reply) {
		result.AddError(fmt.Sprintf("steps[%d]: call %s replied %v, expected %v",
			i, step.Call, reply, step.Expect.Reply))
	}
}

// checkStepError reconciles a step outcome with its expect_error clause.
// Returns true when the step may continue to reply validation.
func checkStepError(i int, step Step, err error, result *Result) bool {
	if step.ExpectError != "" {
		if err == nil {
			result.AddError(fmt.Sprintf("steps[%d]: expected error containing %q, got none",
				i, step.ExpectError))
		} else if !strings.Contains(err.Error(), step.ExpectError) {
			result.AddError(fmt.Sprintf("steps[%d]: expected error containing %q, got %q",
				i, step.ExpectError, err.Error()))
		}
		return false
	}
	if err != nil {
		result.AddError(fmt.Sprintf("steps[%d]: unexpected error: %v", i, err))
		return false
	}
	return true
}
