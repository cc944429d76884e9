package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: a module topology plus a
// flow of dispatch steps and trace assertions.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Modules declares the scripted recorder modules to register, in
	// registration order.
	Modules []ModuleSpec `yaml:"modules"`

	// Steps contains the dispatch operations to drive, in order. Every
	// step is synchronous so the recorded trace is deterministic.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ModuleSpec declares one scripted recorder module.
type ModuleSpec struct {
	// Name is the registration name.
	Name string `yaml:"name"`

	// Events lists the broadcast events this module reacts to.
	Events []EventSpec `yaml:"events,omitempty"`

	// Handlers lists directly callable handlers with canned replies.
	Handlers []HandlerSpec `yaml:"handlers,omitempty"`
}

// EventSpec scripts the reaction to one broadcast event.
type EventSpec struct {
	// On is the event name without the "on_" prefix.
	On string `yaml:"on"`

	// Emit, when set, broadcasts another event synchronously after
	// recording the delivery. Split horizon keeps the emitting module
	// from receiving its own emission.
	Emit string `yaml:"emit,omitempty"`

	// EmitArgs are the arguments of the emitted event.
	EmitArgs map[string]any `yaml:"emit_args,omitempty"`

	// Fail, when set, makes the handler return an error with this
	// message after recording the delivery.
	Fail string `yaml:"fail,omitempty"`
}

// HandlerSpec scripts one directly callable handler.
type HandlerSpec struct {
	// Name is the handler name, callable as "module.name".
	Name string `yaml:"name"`

	// Reply is the value the handler returns.
	Reply any `yaml:"reply,omitempty"`

	// Fail, when set, makes the handler return an error with this
	// message after recording the delivery.
	Fail string `yaml:"fail,omitempty"`
}

// Step is one dispatch operation. Exactly one of Broadcast or Call must
// be set.
type Step struct {
	// Broadcast delivers the named event synchronously to all modules.
	Broadcast string `yaml:"broadcast,omitempty"`

	// Call executes a "module.handler" target synchronously.
	Call string `yaml:"call,omitempty"`

	// Args are the step arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect, for Call steps, validates the handler reply.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// ExpectError, when set, requires the step to fail with an error
	// containing this substring.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// ExpectClause specifies the expected reply of a call step.
type ExpectClause struct {
	Reply any `yaml:"reply"`
}

// Assertion validates the recorded trace.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count.
	Type string `yaml:"type"`

	// Target is the "module.handler" entry the assertion refers to
	// (trace_contains, trace_count).
	Target string `yaml:"target,omitempty"`

	// Args are expected delivery arguments, matched as a subset
	// (trace_contains).
	Args map[string]any `yaml:"args,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Targets is the expected delivery order, matched as a subsequence
	// (trace_order).
	Targets []string `yaml:"targets,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as load errors instead of silently ignored
// configuration.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Modules) == 0 {
		return fmt.Errorf("modules list is required and must be non-empty")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Modules))
	for i, m := range s.Modules {
		if m.Name == "" {
			return fmt.Errorf("modules[%d]: name is required", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("modules[%d]: duplicate module name %q", i, m.Name)
		}
		seen[m.Name] = true

		for j, ev := range m.Events {
			if ev.On == "" {
				return fmt.Errorf("modules[%d].events[%d]: on is required", i, j)
			}
			if ev.Emit != "" && ev.Fail != "" {
				return fmt.Errorf("modules[%d].events[%d]: emit and fail are mutually exclusive", i, j)
			}
		}
		for j, h := range m.Handlers {
			if h.Name == "" {
				return fmt.Errorf("modules[%d].handlers[%d]: name is required", i, j)
			}
		}
	}

	for i, step := range s.Steps {
		switch {
		case step.Broadcast != "" && step.Call != "":
			return fmt.Errorf("steps[%d]: broadcast and call are mutually exclusive", i)
		case step.Broadcast == "" && step.Call == "":
			return fmt.Errorf("steps[%d]: one of broadcast or call is required", i)
		case step.Call != "" && !strings.Contains(step.Call, "."):
			return fmt.Errorf("steps[%d]: call target must be \"module.handler\"", i)
		case step.Broadcast != "" && step.Expect != nil:
			return fmt.Errorf("steps[%d]: expect applies to call steps only", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Targets) == 0 {
			return fmt.Errorf("assertions[%d]: targets list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
