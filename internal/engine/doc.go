// Package engine contains the rule execution core: the condition
// evaluator, the action executor, and the event dispatcher.
//
// The dispatcher is the entry point for device events. It fans each
// event out to the usage analyzer and the duration tracker, then asks
// the rule store for matching rules and hands them to the executor. The
// executor gates on conditions, runs actions in order with
// continue-on-error semantics, and fans completed execution records out
// to registered sinks.
//
// Rule chains (execute_rule actions) are bounded by a depth limit and a
// cycle check carried in the ExecutionContext. Concurrent fires of the
// same rule from independent sources are serialized through a per-rule
// mutex; chained executions bypass the lock because the cycle check
// already prevents re-entry.
//
// External collaborators are expressed as narrow interfaces
// (DeviceController, RuleStore, ExecutionSink) so the engine can be
// tested without a device bus or database.
package engine
