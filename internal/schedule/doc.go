// Package schedule runs the time-based side of the rules engine. It
// maps time triggers ("HH:MM" plus optional weekdays), raw cron
// triggers, and astronomical triggers (sunrise/sunset with minute
// offsets) onto a single robfig/cron instance.
//
// Astronomical triggers cannot be expressed as a static cron spec, so
// the scheduler derives today's concrete fire time at startup and again
// every midnight, replacing the affected entries. The scheduler also
// subscribes to rule store changes so edits take effect without a
// restart.
package schedule
