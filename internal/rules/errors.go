package rules

import "errors"

// Domain errors for the rules package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, rules.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("rule: not found")

	// ErrRuleExists is returned when creating a rule with an ID that already exists.
	ErrRuleExists = errors.New("rule: already exists")

	// ErrRuleDisabled is returned when attempting to execute a disabled rule.
	ErrRuleDisabled = errors.New("rule: disabled")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("rule: invalid")

	// ErrInvalidTrigger is returned when a trigger is malformed.
	ErrInvalidTrigger = errors.New("rule: invalid trigger")

	// ErrInvalidCondition is returned when a condition is malformed.
	ErrInvalidCondition = errors.New("rule: invalid condition")

	// ErrInvalidAction is returned when an action is malformed.
	ErrInvalidAction = errors.New("rule: invalid action")

	// ErrNoTriggers is returned when a rule has no triggers defined.
	ErrNoTriggers = errors.New("rule: no triggers")

	// ErrNoActions is returned when a rule has no actions defined.
	ErrNoActions = errors.New("rule: no actions")

	// ErrPersistence is returned when writing the rule document fails.
	// The in-memory rule set remains authoritative until the next
	// successful flush.
	ErrPersistence = errors.New("rule: persistence failed")
)
