package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run of one or more valet sessions.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Sessions lists the employees signed in before the flow starts.
	Sessions []string `yaml:"sessions"`

	// Flow is executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and store.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one step of the flow.
type FlowStep struct {
	// As names the employee whose session runs the action. Empty for
	// environment steps.
	As string `yaml:"as,omitempty"`

	// Do is the action or environment step name.
	Do string `yaml:"do"`

	// Args are the step arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect checks the step's outcome. Optional.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause lists expected outcome fields; only the ones set are
// checked.
type ExpectClause struct {
	State    string `yaml:"state,omitempty"`
	Affected *int   `yaml:"affected,omitempty"`
	Level    string `yaml:"level,omitempty"`
	Title    string `yaml:"title,omitempty"`
	Message  string `yaml:"message,omitempty"`
	Error    string `yaml:"error,omitempty"`
	Decision string `yaml:"decision,omitempty"`
}

// Assertion validates the trace or the final store.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action names a step (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args is a subset of the step's args (trace_contains).
	Args map[string]any `yaml:"args,omitempty"`

	// Table, Where and Expect select and check one row (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of steps or toasts.
	Count int `yaml:"count,omitempty"`

	// Actions is the expected step order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// User names the session (toast_count).
	User string `yaml:"user,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertToastCount    = "toast_count"
)

// Environment steps.
const (
	StepAdvance    = "advance"
	StepNotify     = "notify"
	StepPush       = "push"
	StepTap        = "tap"
	StepBackground = "background"
	StepForeground = "foreground"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
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
	if len(s.Sessions) == 0 {
		return fmt.Errorf("sessions list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, step, s.Sessions); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step FlowStep, sessions []string) error {
	if step.Do == "" {
		return fmt.Errorf("flow[%d]: do is required", index)
	}
	if step.As != "" {
		if !slices.Contains(sessions, step.As) {
			return fmt.Errorf("flow[%d]: %q has no session", index, step.As)
		}
		if _, ok := actions[step.Do]; !ok {
			return fmt.Errorf("flow[%d]: unknown action %q", index, step.Do)
		}
		return nil
	}

	switch step.Do {
	case StepAdvance:
		if _, ok := step.Args["by"]; !ok {
			return fmt.Errorf("flow[%d]: advance needs args.by", index)
		}
	case StepNotify, StepPush, StepTap, StepBackground, StepForeground:
		if _, ok := step.Args["user"]; !ok {
			return fmt.Errorf("flow[%d]: %s needs args.user", index, step.Do)
		}
	default:
		return fmt.Errorf("flow[%d]: unknown step %q (actions need \"as\")", index, step.Do)
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
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertToastCount:
		if a.User == "" {
			return fmt.Errorf("assertions[%d]: user is required for toast_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
