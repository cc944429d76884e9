package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// snapshotMap builds the canonical-JSON view of a run: the scenario name
// plus the trace. Transaction tokens are excluded, see TraceEvent.
func snapshotMap(name string, trace []TraceEvent) map[string]any {
	events := make([]any, len(trace))
	for i, e := range trace {
		ev := map[string]any{
			"seq":     e.Seq,
			"module":  e.Module,
			"handler": e.Handler,
			"source":  e.Source,
		}
		if len(e.Args) > 0 {
			ev["args"] = e.Args
		}
		events[i] = ev
	}
	return map[string]any{"name": name, "trace": events}
}

// RunWithGolden executes a scenario and compares the recorded trace
// against the golden file testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, msg)
	}

	data, err := MarshalCanonical(snapshotMap(scenario.Name, result.Trace))
	if err != nil {
		t.Fatalf("scenario %s: marshal trace: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return result
}
