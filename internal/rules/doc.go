// Package rules provides the automation rule model and its durable store
// for Hearth Core.
//
// A Rule pairs triggers (device state changes, clock times, cron
// expressions, astronomical events) with optional conditions and an
// ordered action list. The package owns:
//
//   - The Rule/Trigger/Condition/Action data model and validation
//   - The single six-operator comparison used everywhere a device value
//     is matched (Compare)
//   - The Store: an in-memory map persisted as one JSON document,
//     rewritten atomically on every mutation through a serialized writer
//   - Static conflict detection over the enabled rule set
//
// # Persistence
//
// The store persists {version, rules, lastModified} as a single document.
// Writes go through a temp file + rename so a crash mid-write never
// leaves a torn document. The in-memory map stays authoritative when a
// write fails; the error is surfaced to the mutating caller.
//
// # Change notification
//
// Components that derive state from rules (the trigger scheduler, the
// duration tracker) register as ChangeListeners and recompute their
// subscriptions for a rule after each mutation.
//
// # Thread Safety
//
// All Store methods are safe for concurrent use. Rules returned from the
// store are deep copies; callers can modify them freely.
package rules
