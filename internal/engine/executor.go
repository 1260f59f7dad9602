package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthlight/hearth-core/internal/rules"
)

// Execution limits.
const (
	// maxRuleExecutionTime is the hard limit for a single rule
	// execution, including delays and chained rules. Prevents goroutine
	// accumulation from runaway rules.
	maxRuleExecutionTime = 10 * time.Minute

	// maxChainDepth bounds execute_rule nesting. A chain that reaches
	// this depth records a failed action result instead of recursing.
	maxChainDepth = 8
)

// ErrChainLimit is wrapped into action errors when an execute_rule
// action would exceed the chain depth or revisit a rule already in the
// chain.
var ErrChainLimit = errors.New("engine: rule chain limit")

// RuleStore is the executor's view of the rule store.
type RuleStore interface {
	Get(ctx context.Context, id rules.RuleID) (*rules.Rule, error)
	RecordExecution(ctx context.Context, id rules.RuleID) error
}

// capabilityByCommand infers the device capability from a command name
// when the action does not specify one explicitly.
var capabilityByCommand = map[string]string{
	"on":                    "switch",
	"off":                   "switch",
	"setLevel":              "switchLevel",
	"setColor":              "colorControl",
	"setHue":                "colorControl",
	"setSaturation":         "colorControl",
	"setColorTemperature":   "colorTemperature",
	"lock":                  "lock",
	"unlock":                "lock",
	"open":                  "doorControl",
	"close":                 "doorControl",
	"setHeatingSetpoint":    "thermostat",
	"setCoolingSetpoint":    "thermostat",
	"setThermostatMode":     "thermostat",
	"play":                  "mediaPlayback",
	"pause":                 "mediaPlayback",
	"stop":                  "mediaPlayback",
	"setVolume":             "audioVolume",
	"refresh":               "refresh",
}

// InferCapability returns the capability for a command, defaulting to
// "switch" for unknown commands.
func InferCapability(command string) string {
	if capability, ok := capabilityByCommand[command]; ok {
		return capability
	}
	return "switch"
}

// Executor runs a rule's action list against the device control
// capability.
//
// Actions execute strictly in list order and continue on error: a failed
// action is recorded but does not abort its siblings. The aggregate
// Success is the AND of all action results. Executions of the same rule
// are serialized through a per-rule mutex so a schedule fire and a
// duration fire arriving together queue up instead of interleaving
// their actions; distinct rules run concurrently.
//
// Thread Safety: ExecuteRule is safe for concurrent use.
type Executor struct {
	store     RuleStore
	devices   DeviceController
	evaluator *Evaluator
	logger    Logger

	sinkMu sync.RWMutex
	sinks  []ExecutionSink

	lockMu    sync.Mutex
	ruleLocks map[rules.RuleID]*sync.Mutex
}

// NewExecutor creates an action executor.
func NewExecutor(store RuleStore, devices DeviceController, evaluator *Evaluator, logger Logger) *Executor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{
		store:     store,
		devices:   devices,
		evaluator: evaluator,
		logger:    logger,
		ruleLocks: make(map[rules.RuleID]*sync.Mutex),
	}
}

// AddSink registers an execution sink (history, telemetry). Wire sinks
// during startup.
func (x *Executor) AddSink(sink ExecutionSink) {
	x.sinkMu.Lock()
	x.sinks = append(x.sinks, sink)
	x.sinkMu.Unlock()
}

// ExecuteRuleByID re-fetches a rule from the store and executes it.
// This is the entry point for schedule fires, manual runs, and rule
// chains: it never acts on a stale rule snapshot.
//
// Returns rules.ErrRuleNotFound or rules.ErrRuleDisabled without
// executing when the rule is gone or disabled.
func (x *Executor) ExecuteRuleByID(ctx context.Context, id rules.RuleID, ectx *ExecutionContext) (*ExecutionResult, error) {
	rule, err := x.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rule.Enabled {
		return nil, rules.ErrRuleDisabled
	}
	return x.ExecuteRule(ctx, rule, ectx), nil
}

// ExecuteRule runs every action of the rule in order and returns the
// complete execution record. Individual action failures flip the
// aggregate success but never abort the remaining actions.
func (x *Executor) ExecuteRule(ctx context.Context, rule *rules.Rule, ectx *ExecutionContext) *ExecutionResult {
	if ectx == nil {
		ectx = &ExecutionContext{TriggeredBy: TriggerManual}
	}

	// Serialize top-level executions of the same rule. Chained
	// executions skip the lock: the chain already holds the parent's,
	// and cycle detection prevents re-entry into a held rule.
	if ectx.TriggeredBy != TriggerRuleChain {
		lock := x.ruleLock(rule.ID)
		lock.Lock()
		defer lock.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, maxRuleExecutionTime)
	defer cancel()

	started := time.Now().UTC()
	result := &ExecutionResult{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		TriggeredBy: ectx.TriggeredBy,
		StartedAt:   started,
	}

	x.logger.Info("rule execution started",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"execution_id", result.ID,
		"triggered_by", ectx.TriggeredBy,
		"actions", len(rule.Actions),
	)

	// Gate on conditions when present. An unsatisfied condition list is
	// a skip, not a failure.
	if len(rule.Conditions) > 0 {
		eval := x.evaluator.EvaluateAll(ctx, rule.Conditions)
		result.Reasons = eval.Reasons
		if !eval.Satisfied {
			result.Skipped = true
			result.Success = true
			x.finish(ctx, result, started)
			x.logger.Info("rule skipped, conditions not satisfied",
				"rule_id", rule.ID, "execution_id", result.ID)
			return result
		}
	}

	var failures []string
	for _, action := range rule.Actions {
		ar := x.executeAction(ctx, rule, action, ectx)
		result.Actions = append(result.Actions, ar)
		if !ar.Success {
			failures = append(failures, fmt.Sprintf("%s: %s", ar.Type, ar.Error))
		}
	}

	result.Success = len(failures) == 0
	if len(failures) > 0 {
		result.Error = strings.Join(failures, "; ")
	}

	if err := x.store.RecordExecution(ctx, rule.ID); err != nil {
		x.logger.Error("failed to record execution", "rule_id", rule.ID, "error", err)
	}

	x.finish(ctx, result, started)

	x.logger.Info("rule execution complete",
		"rule_id", rule.ID,
		"execution_id", result.ID,
		"success", result.Success,
		"duration_ms", result.DurationMS,
	)
	return result
}

// finish stamps the completion fields and fans the record out to sinks.
func (x *Executor) finish(ctx context.Context, result *ExecutionResult, started time.Time) {
	completed := time.Now().UTC()
	result.CompletedAt = completed
	result.DurationMS = completed.Sub(started).Milliseconds()

	x.sinkMu.RLock()
	sinks := x.sinks
	x.sinkMu.RUnlock()

	for _, sink := range sinks {
		if err := sink.RecordExecution(ctx, result); err != nil {
			x.logger.Error("execution sink failed", "execution_id", result.ID, "error", err)
		}
	}
}

// executeAction dispatches a single action and returns its result.
func (x *Executor) executeAction(ctx context.Context, rule *rules.Rule, action rules.Action, ectx *ExecutionContext) ActionResult {
	started := time.Now()
	result := ActionResult{Type: action.Type, Success: true}

	var err error
	switch action.Type {
	case rules.ActionDeviceCommand:
		err = x.runDeviceCommand(ctx, action)
	case rules.ActionDelay:
		err = x.runDelay(ctx, action)
	case rules.ActionSequence:
		err = x.runSequence(ctx, rule, action, ectx)
	case rules.ActionNotification:
		x.logger.Info("notification",
			"rule_id", rule.ID,
			"title", action.Title,
			"message", action.Message,
			"priority", action.Priority,
		)
	case rules.ActionExecuteRule:
		err = x.runChainedRule(ctx, rule, action, ectx)
	default:
		err = fmt.Errorf("unknown action type %q", action.Type)
	}

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		x.logger.Warn("action failed",
			"rule_id", rule.ID,
			"action", action.Type,
			"error", err,
		)
	}
	result.DurationMS = time.Since(started).Milliseconds()
	return result
}

func (x *Executor) runDeviceCommand(ctx context.Context, action rules.Action) error {
	capability := action.Capability
	if capability == "" {
		capability = InferCapability(action.Command)
	}

	args := action.Arguments
	if args == nil {
		args = []any{}
	}

	if err := x.devices.ExecuteCommand(ctx, action.DeviceID, capability, action.Command, args); err != nil {
		return fmt.Errorf("device %s %s.%s: %w", action.DeviceID, capability, action.Command, err)
	}
	return nil
}

// runDelay blocks this execution path only; other rules keep
// dispatching.
func (x *Executor) runDelay(ctx context.Context, action rules.Action) error {
	select {
	case <-time.After(time.Duration(action.Seconds) * time.Second):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("delay interrupted: %w", ctx.Err())
	}
}

// runSequence executes child actions serially or fans them out in
// parallel. Parallel mode waits for all children; the first error does
// not cancel siblings.
func (x *Executor) runSequence(ctx context.Context, rule *rules.Rule, action rules.Action, ectx *ExecutionContext) error {
	if action.Mode == rules.SequenceParallel {
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			failures []string
		)
		for _, child := range action.Actions {
			wg.Add(1)
			go func(a rules.Action) {
				defer wg.Done()
				if ar := x.executeAction(ctx, rule, a, ectx); !ar.Success {
					mu.Lock()
					failures = append(failures, fmt.Sprintf("%s: %s", ar.Type, ar.Error))
					mu.Unlock()
				}
			}(child)
		}
		wg.Wait()

		if len(failures) > 0 {
			return fmt.Errorf("parallel sequence: %s", strings.Join(failures, "; "))
		}
		return nil
	}

	var failures []string
	for _, child := range action.Actions {
		if ar := x.executeAction(ctx, rule, child, ectx); !ar.Success {
			failures = append(failures, fmt.Sprintf("%s: %s", ar.Type, ar.Error))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("sequence: %s", strings.Join(failures, "; "))
	}
	return nil
}

// runChainedRule executes another rule as part of this one. The chain is
// bounded both by depth and by a visited check so self-referencing rules
// fail fast instead of recursing without bound.
func (x *Executor) runChainedRule(ctx context.Context, rule *rules.Rule, action rules.Action, ectx *ExecutionContext) error {
	if len(ectx.chain) >= maxChainDepth {
		return fmt.Errorf("%w: depth %d exceeded", ErrChainLimit, maxChainDepth)
	}
	if action.RuleID == rule.ID || ectx.inChain(action.RuleID) {
		return fmt.Errorf("%w: cycle detected at rule %s", ErrChainLimit, action.RuleID)
	}

	childResult, err := x.ExecuteRuleByID(ctx, action.RuleID, ectx.child(rule.ID))
	if err != nil {
		return fmt.Errorf("chained rule %s: %w", action.RuleID, err)
	}
	if !childResult.Success {
		return fmt.Errorf("chained rule %s failed: %s", action.RuleID, childResult.Error)
	}
	return nil
}

// ruleLock returns the mutex serializing executions of one rule,
// creating it lazily.
func (x *Executor) ruleLock(id rules.RuleID) *sync.Mutex {
	x.lockMu.Lock()
	defer x.lockMu.Unlock()

	lock, ok := x.ruleLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		x.ruleLocks[id] = lock
	}
	return lock
}
