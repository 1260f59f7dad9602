// Package analyzer mines recent device activity for automatable
// behaviour. It keeps a fixed-size ring of device events and offers two
// detectors: time-of-day patterns (the same device action recurring
// around a consistent time) and correlations (one device's event
// reliably following another's within a short window).
//
// High-confidence findings become rule suggestions: fully-formed create
// requests that are always disabled, carrying human-readable reasoning,
// left for the user to adopt or discard.
package analyzer
