package harness

import (
	"fmt"
	"reflect"
	"strings"
)

// checkAssertions evaluates every scenario assertion against the
// recorded trace, accumulating failures on the result.
func checkAssertions(scenario *Scenario, result *Result) {
	for i, a := range scenario.Assertions {
		switch a.Type {
		case AssertTraceContains:
			checkTraceContains(i, a, result)
		case AssertTraceOrder:
			checkTraceOrder(i, a, result)
		case AssertTraceCount:
			checkTraceCount(i, a, result)
		}
	}
}

// checkTraceContains requires at least one delivery of the target whose
// args include the asserted args as a subset.
func checkTraceContains(i int, a Assertion, result *Result) {
	for _, e := range result.Trace {
		if e.Target() == a.Target && argsSubset(a.Args, e.Args) {
			return
		}
	}
	result.AddError(fmt.Sprintf("assertions[%d]: trace does not contain %s with args %v",
		i, a.Target, a.Args))
}

// checkTraceOrder requires the asserted targets to appear in the trace
// in order, as a subsequence: other deliveries may interleave.
func checkTraceOrder(i int, a Assertion, result *Result) {
	next := 0
	for _, e := range result.Trace {
		if next < len(a.Targets) && e.Target() == a.Targets[next] {
			next++
		}
	}
	if next != len(a.Targets) {
		result.AddError(fmt.Sprintf("assertions[%d]: trace order [%s] not satisfied, matched %d of %d",
			i, strings.Join(a.Targets, ", "), next, len(a.Targets)))
	}
}

// checkTraceCount requires the target to appear exactly count times.
func checkTraceCount(i int, a Assertion, result *Result) {
	count := 0
	for _, e := range result.Trace {
		if e.Target() == a.Target {
			count++
		}
	}
	if count != a.Count {
		result.AddError(fmt.Sprintf("assertions[%d]: %s appeared %d time(s), expected %d",
			i, a.Target, count, a.Count))
	}
}

// argsSubset reports whether every key of want appears in got with an
// equal value.
func argsSubset(want map[string]any, got map[string]any) bool {
	for k, v := range want {
		gv, ok := got[k]
		if !ok || !reflect.DeepEqual(v, gv) {
			return false
		}
	}
	return true
}
