// Package duration tracks how long device attributes hold a value and
// fires rules whose device-state triggers require a minimum sustained
// duration, such as "motion active for 10 minutes".
//
// The tracker is fed every device event by the dispatcher. Instantaneous
// matching is deliberately left to the rule store's matcher; this
// package owns only triggers with a duration requirement, checked on a
// fixed interval. A trigger fires once per continuous hold and re-arms
// when the attribute changes value.
package duration
