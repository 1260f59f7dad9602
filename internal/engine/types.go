package engine

import (
	"context"
	"time"

	"github.com/hearthlight/hearth-core/internal/rules"
)

// TriggerSource identifies how a rule execution was initiated.
type TriggerSource string

const (
	TriggerEvent     TriggerSource = "event"
	TriggerManual    TriggerSource = "manual"
	TriggerSchedule  TriggerSource = "schedule"
	TriggerRuleChain TriggerSource = "rule_chain"
)

// ExecutionContext carries provenance and variables through a rule
// execution, including nested rule-chain executions.
type ExecutionContext struct {
	TriggeredBy  TriggerSource      `json:"triggered_by"`
	TriggerEvent *rules.DeviceEvent `json:"trigger_event,omitempty"`

	// Variables is a free-form map passed to nested chain executions.
	Variables map[string]any `json:"variables,omitempty"`

	// chain tracks the rules already executing in this chain, in order.
	// Used for the depth limit and cycle detection on execute_rule.
	chain []rules.RuleID
}

// child derives the context for a chained execution of target.
func (c *ExecutionContext) child(parent rules.RuleID) *ExecutionContext {
	chain := make([]rules.RuleID, 0, len(c.chain)+1)
	chain = append(chain, c.chain...)
	chain = append(chain, parent)
	return &ExecutionContext{
		TriggeredBy:  TriggerRuleChain,
		TriggerEvent: c.TriggerEvent,
		Variables:    c.Variables,
		chain:        chain,
	}
}

// inChain reports whether id is already executing in this chain.
func (c *ExecutionContext) inChain(id rules.RuleID) bool {
	for _, r := range c.chain {
		if r == id {
			return true
		}
	}
	return false
}

// ActionResult records the outcome of one action within an execution.
type ActionResult struct {
	Type       rules.ActionType `json:"type"`
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	DurationMS int64            `json:"duration_ms"`
}

// ExecutionResult is the complete record of one rule execution.
type ExecutionResult struct {
	ID          string        `json:"id"`
	RuleID      rules.RuleID  `json:"rule_id"`
	RuleName    string        `json:"rule_name"`
	TriggeredBy TriggerSource `json:"triggered_by"`

	// Success is the AND of all action results. Skipped executions
	// (conditions not satisfied) report Success=true with no actions.
	Success bool `json:"success"`

	// Skipped is set when the rule's conditions were not satisfied and
	// no actions ran.
	Skipped bool     `json:"skipped,omitempty"`
	Reasons []string `json:"reasons,omitempty"`

	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationMS  int64          `json:"duration_ms"`
	Actions     []ActionResult `json:"actions"`
	Error       string         `json:"error,omitempty"`
}

// DeviceStatus is the nested capability → attribute → value map returned
// by the device control collaborator.
type DeviceStatus map[string]map[string]any

// Attribute scans all capabilities for the named attribute and returns
// its value.
func (s DeviceStatus) Attribute(name string) (any, bool) {
	for _, attrs := range s {
		if v, ok := attrs[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// DeviceController is the engine's view of the external device control
// capability.
type DeviceController interface {
	// ExecuteCommand sends a command to a device.
	ExecuteCommand(ctx context.Context, deviceID, capability, command string, args []any) error

	// GetDeviceStatus returns the device's current state for condition
	// evaluation.
	GetDeviceStatus(ctx context.Context, deviceID string) (DeviceStatus, error)
}

// ExecutionSink consumes completed execution records (history
// repository, telemetry, ...). Sink failures are logged, never
// propagated into the execution result.
type ExecutionSink interface {
	RecordExecution(ctx context.Context, result *ExecutionResult) error
}

// Logger defines the logging interface used by the engine components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
