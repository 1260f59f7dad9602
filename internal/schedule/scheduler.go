package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hearthlight/hearth-core/internal/rules"
)

// jobKind identifies what a scheduled entry does.
type jobKind string

const (
	jobTime  jobKind = "time"
	jobCron  jobKind = "cron"
	jobAstro jobKind = "astro"
)

// RuleProvider supplies the enabled rule set for (re)scheduling.
// Implemented by rules.Store.
type RuleProvider interface {
	GetEnabled(ctx context.Context) []rules.Rule
}

// RuleRunner executes a rule when its schedule fires. Implemented by
// engine.Executor via a thin adapter in the composition root.
type RuleRunner interface {
	RunScheduled(ctx context.Context, id rules.RuleID)
}

// AstroClock resolves solar event times for astronomical triggers.
// Implemented by astro.Calculator.
type AstroClock interface {
	EventTime(event string, date time.Time, offsetMinutes int) (time.Time, error)
}

// jobEntry is one registered cron entry belonging to a rule.
type jobEntry struct {
	entryID cron.EntryID
	kind    jobKind
	spec    string
}

// JobStatus describes one scheduled job for diagnostics.
type JobStatus struct {
	RuleID rules.RuleID `json:"rule_id"`
	Kind   string       `json:"kind"`
	Spec   string       `json:"spec"`
	Next   time.Time    `json:"next"`
}

// Scheduler turns time, cron, and astronomical triggers into cron jobs.
//
// Astronomical triggers are resolved to a concrete fire time each day: a
// midnight job recomputes tomorrow's sunrise and sunset and replaces the
// affected entries. An astronomical event already past when a rule is
// scheduled is skipped until the next recomputation.
//
// The scheduler listens for rule store changes: a changed rule is
// removed and rescheduled, a removed rule is dropped. It implements
// rules.ChangeListener.
//
// Thread Safety: all methods are safe for concurrent use.
type Scheduler struct {
	cron   *cron.Cron
	runner RuleRunner
	store  RuleProvider
	astro  AstroClock
	logger Logger
	clock  func() time.Time

	mu   sync.Mutex
	jobs map[rules.RuleID][]jobEntry

	baseCtx context.Context
}

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// New creates a trigger scheduler. astro may be nil; astronomical
// triggers are then skipped with a warning.
func New(store RuleProvider, runner RuleRunner, astro AstroClock, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		store:  store,
		astro:  astro,
		logger: logger,
		clock:  time.Now,
		jobs:   make(map[rules.RuleID][]jobEntry),
	}
}

// Start schedules every enabled rule and starts the cron loop. ctx is
// retained as the base context for fired executions.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx = ctx

	enabled := s.store.GetEnabled(ctx)
	for i := range enabled {
		rule := &enabled[i]
		if err := s.scheduleRule(rule); err != nil {
			s.logger.Warn("failed to schedule rule",
				"rule_id", rule.ID, "rule_name", rule.Name, "error", err)
		}
	}

	// Recompute astronomical fire times just after midnight so each day
	// gets fresh sunrise/sunset derivations.
	if _, err := s.cron.AddFunc("0 0 * * *", s.recomputeAstronomical); err != nil {
		return fmt.Errorf("schedule: midnight recompute job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "rules_scheduled", len(s.jobs))
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

// RuleChanged reschedules a rule after a store change. Disabled rules
// are simply removed.
func (s *Scheduler) RuleChanged(rule *rules.Rule) {
	s.removeRule(rule.ID)
	if !rule.Enabled {
		return
	}
	if err := s.scheduleRule(rule); err != nil {
		s.logger.Warn("failed to reschedule rule",
			"rule_id", rule.ID, "rule_name", rule.Name, "error", err)
	}
}

// RuleRemoved drops all jobs for a deleted rule.
func (s *Scheduler) RuleRemoved(id rules.RuleID) {
	s.removeRule(id)
}

// Jobs returns a snapshot of all scheduled jobs with their next fire
// times, for the status surface.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []JobStatus
	for id, entries := range s.jobs {
		for _, e := range entries {
			out = append(out, JobStatus{
				RuleID: id,
				Kind:   string(e.kind),
				Spec:   e.spec,
				Next:   s.cron.Entry(e.entryID).Next,
			})
		}
	}
	return out
}

// scheduleRule registers cron entries for every schedulable trigger of
// the rule. Device-state triggers are event-driven and ignored here.
func (s *Scheduler) scheduleRule(rule *rules.Rule) error {
	var entries []jobEntry

	for i, trigger := range rule.Triggers {
		var (
			spec string
			kind jobKind
			err  error
		)

		switch trigger.Type {
		case rules.TriggerTime:
			spec, err = CronSpecForTime(trigger.Time, trigger.Days)
			kind = jobTime
		case rules.TriggerCron:
			spec = trigger.Expression
			kind = jobCron
			_, err = cron.ParseStandard(spec)
		case rules.TriggerAstronomical:
			spec, err = s.astroSpec(trigger)
			kind = jobAstro
			if err == nil && spec == "" {
				// Event already passed today; picked up at midnight.
				s.logger.Debug("astronomical trigger passed for today",
					"rule_id", rule.ID, "event", trigger.Event)
				continue
			}
		default:
			continue
		}

		if err != nil {
			s.logger.Warn("skipping unschedulable trigger",
				"rule_id", rule.ID, "trigger", i, "error", err)
			continue
		}

		id := rule.ID
		entryID, addErr := s.cron.AddFunc(spec, func() {
			s.fire(id)
		})
		if addErr != nil {
			// Unwind entries already registered for this rule so none
			// are left running without a record in s.jobs.
			for _, e := range entries {
				s.cron.Remove(e.entryID)
			}
			return fmt.Errorf("schedule: rule %s trigger %d: %w", rule.ID, i, addErr)
		}
		entries = append(entries, jobEntry{entryID: entryID, kind: kind, spec: spec})
	}

	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	s.jobs[rule.ID] = entries
	s.mu.Unlock()

	s.logger.Info("rule scheduled",
		"rule_id", rule.ID, "rule_name", rule.Name, "jobs", len(entries))
	return nil
}

// fire hands a scheduled rule to the runner.
func (s *Scheduler) fire(id rules.RuleID) {
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	s.runner.RunScheduled(ctx, id)
}

// removeRule drops all cron entries for a rule.
func (s *Scheduler) removeRule(id rules.RuleID) {
	s.mu.Lock()
	entries := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()

	for _, e := range entries {
		s.cron.Remove(e.entryID)
	}
}

// astroSpec resolves an astronomical trigger into a cron spec for
// today's occurrence. Returns an empty spec when the event has already
// passed today or cannot be computed.
func (s *Scheduler) astroSpec(trigger rules.Trigger) (string, error) {
	if s.astro == nil {
		return "", fmt.Errorf("no location configured for astronomical trigger %q", trigger.Event)
	}

	now := s.clock()
	fireAt, err := s.astro.EventTime(trigger.Event, now, trigger.OffsetMinutes)
	if err != nil {
		return "", err
	}

	local := fireAt.In(now.Location())
	if local.Before(now) {
		return "", nil
	}
	return fmt.Sprintf("%d %d * * *", local.Minute(), local.Hour()), nil
}

// recomputeAstronomical re-derives astronomical fire times for the new
// day. Runs from the midnight cron entry. It walks the enabled rule set
// rather than the current job map: a trigger whose event had already
// passed when the rule was scheduled holds no entry, and must still be
// picked up here.
func (s *Scheduler) recomputeAstronomical() {
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}

	enabled := s.store.GetEnabled(ctx)
	recomputed := 0
	for i := range enabled {
		rule := &enabled[i]
		if !hasAstronomicalTrigger(rule) {
			continue
		}
		s.RuleChanged(rule)
		recomputed++
	}

	s.logger.Info("recomputed astronomical schedules", "rules", recomputed)
}

// hasAstronomicalTrigger reports whether any of the rule's triggers is
// astronomical.
func hasAstronomicalTrigger(rule *rules.Rule) bool {
	for _, t := range rule.Triggers {
		if t.Type == rules.TriggerAstronomical {
			return true
		}
	}
	return false
}

// CronSpecForTime converts a daily "HH:MM" time and optional weekday
// list into a 5-field cron spec. An empty day list means every day.
func CronSpecForTime(clock string, days []string) (string, error) {
	minutes, err := rules.ParseClock(clock)
	if err != nil {
		return "", err
	}

	dow := "*"
	if len(days) > 0 {
		nums := make([]string, 0, len(days))
		for _, day := range days {
			n, ok := rules.WeekdayNumber(day)
			if !ok {
				return "", fmt.Errorf("unknown weekday %q", day)
			}
			nums = append(nums, fmt.Sprintf("%d", n))
		}
		dow = strings.Join(nums, ",")
	}

	return fmt.Sprintf("%d %d * * %s", minutes%60, minutes/60, dow), nil
}
