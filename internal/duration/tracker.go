package duration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hearthlight/hearth-core/internal/rules"
)

// defaultCheckInterval is how often sustained states are re-checked
// against pending duration triggers.
const defaultCheckInterval = 30 * time.Second

// RuleSource supplies the enabled rules whose duration triggers the
// tracker watches. Implemented by rules.Store.
type RuleSource interface {
	GetEnabled(ctx context.Context) []rules.Rule
}

// RuleRunner executes a rule when its duration trigger matures.
type RuleRunner interface {
	RunDuration(ctx context.Context, id rules.RuleID, variables map[string]any)
}

// Logger defines the logging interface used by the tracker.
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

// stateEntry records when a device attribute last changed to its
// current value.
type stateEntry struct {
	Value     any       `json:"value"`
	StartTime time.Time `json:"start_time"`
}

// EntryStatus describes one tracked state for diagnostics.
type EntryStatus struct {
	DeviceID  string    `json:"device_id"`
	Attribute string    `json:"attribute"`
	Value     any       `json:"value"`
	StartTime time.Time `json:"start_time"`
	HeldFor   string    `json:"held_for"`
}

// Tracker fires rules whose device-state trigger carries a minimum
// sustained duration.
//
// Each device attribute's current value and its start time are kept in
// memory; every check interval the tracker scans enabled rules for
// duration triggers whose value matches and whose hold time has elapsed.
// A trigger fires at most once per continuous hold: the fired flag
// clears only when the attribute changes value.
//
// Thread Safety: all methods are safe for concurrent use.
type Tracker struct {
	store    RuleSource
	runner   RuleRunner
	logger   Logger
	interval time.Duration
	clock    func() time.Time

	mu      sync.Mutex
	entries map[string]*stateEntry
	// fired marks "deviceID|attribute" → "ruleID#triggerIdx" → fired for
	// the current hold.
	fired map[string]map[string]bool

	stop chan struct{}
	done chan struct{}
}

// New creates a duration tracker. A non-positive interval falls back to
// the default of 30 seconds.
func New(store RuleSource, runner RuleRunner, interval time.Duration, logger Logger) *Tracker {
	if logger == nil {
		logger = noopLogger{}
	}
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Tracker{
		store:    store,
		runner:   runner,
		logger:   logger,
		interval: interval,
		clock:    time.Now,
		entries:  make(map[string]*stateEntry),
		fired:    make(map[string]map[string]bool),
	}
}

// Start launches the periodic check loop. Returns immediately; the loop
// runs until Stop is called or ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.check(ctx)
			case <-t.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	t.logger.Info("duration tracker started", "interval", t.interval.String())
}

// Stop halts the check loop and waits for it to exit.
func (t *Tracker) Stop() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.logger.Info("duration tracker stopped")
}

// UpdateDeviceState records a device state change. A repeated report of
// the same value keeps the original start time; a changed value resets
// the hold timer and clears the fired flags for that attribute.
func (t *Tracker) UpdateDeviceState(evt rules.DeviceEvent) {
	key := stateKey(evt.DeviceID, evt.Attribute)

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[key]; ok {
		if rules.Compare(rules.OpEquals, existing.Value, evt.Value, nil) {
			return
		}
	}

	t.entries[key] = &stateEntry{
		Value:     evt.Value,
		StartTime: t.clock(),
	}
	delete(t.fired, key)
}

// RuleChanged clears fired flags referencing the rule so an edited
// trigger starts fresh. Implements rules.ChangeListener.
func (t *Tracker) RuleChanged(rule *rules.Rule) {
	t.clearRule(rule.ID)
}

// RuleRemoved clears fired flags referencing the deleted rule.
func (t *Tracker) RuleRemoved(id rules.RuleID) {
	t.clearRule(id)
}

// Status returns a snapshot of all tracked states for diagnostics.
func (t *Tracker) Status() []EntryStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	out := make([]EntryStatus, 0, len(t.entries))
	for key, entry := range t.entries {
		deviceID, attribute := splitStateKey(key)
		out = append(out, EntryStatus{
			DeviceID:  deviceID,
			Attribute: attribute,
			Value:     entry.Value,
			StartTime: entry.StartTime,
			HeldFor:   now.Sub(entry.StartTime).Round(time.Second).String(),
		})
	}
	return out
}

// check scans enabled rules for mature duration triggers and fires them.
func (t *Tracker) check(ctx context.Context) {
	now := t.clock()

	type pending struct {
		ruleID    rules.RuleID
		ruleName  string
		stateKey  string
		firedKey  string
		heldMins  int
		targetMin int
	}
	var fires []pending

	enabled := t.store.GetEnabled(ctx)

	t.mu.Lock()
	for _, rule := range enabled {
		for idx, trigger := range rule.Triggers {
			if !trigger.IsDurationTrigger() {
				continue
			}

			key := stateKey(trigger.DeviceID, trigger.Attribute)
			entry, ok := t.entries[key]
			if !ok {
				continue
			}
			if !rules.Compare(trigger.Operator, entry.Value, trigger.Value, trigger.ValueEnd) {
				continue
			}

			held := now.Sub(entry.StartTime)
			if held < time.Duration(trigger.DurationMinutes)*time.Minute {
				continue
			}

			firedKey := fmt.Sprintf("%s#%d", rule.ID, idx)
			if t.fired[key][firedKey] {
				continue
			}
			if t.fired[key] == nil {
				t.fired[key] = make(map[string]bool)
			}
			t.fired[key][firedKey] = true

			fires = append(fires, pending{
				ruleID:    rule.ID,
				ruleName:  rule.Name,
				stateKey:  key,
				firedKey:  firedKey,
				heldMins:  int(held.Minutes()),
				targetMin: trigger.DurationMinutes,
			})
		}
	}
	t.mu.Unlock()

	for _, f := range fires {
		t.logger.Info("duration trigger matured",
			"rule_id", f.ruleID,
			"rule_name", f.ruleName,
			"state", f.stateKey,
			"held_minutes", f.heldMins,
		)
		t.runner.RunDuration(ctx, f.ruleID, map[string]any{
			"durationMinutes": f.targetMin,
		})
	}
}

// clearRule removes fired flags for one rule across all tracked states.
func (t *Tracker) clearRule(id rules.RuleID) {
	prefix := string(id) + "#"

	t.mu.Lock()
	defer t.mu.Unlock()

	for key, flags := range t.fired {
		for firedKey := range flags {
			if len(firedKey) > len(prefix) && firedKey[:len(prefix)] == prefix {
				delete(flags, firedKey)
			}
		}
		if len(flags) == 0 {
			delete(t.fired, key)
		}
	}
}

func stateKey(deviceID, attribute string) string {
	return deviceID + "|" + attribute
}

func splitStateKey(key string) (deviceID, attribute string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
