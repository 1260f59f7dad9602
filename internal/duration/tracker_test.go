package duration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hearthlight/hearth-core/internal/rules"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type mockSource struct {
	mu    sync.Mutex
	rules []rules.Rule
}

func (m *mockSource) GetEnabled(_ context.Context) []rules.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rules.Rule, len(m.rules))
	copy(out, m.rules)
	return out
}

type firedCall struct {
	id        rules.RuleID
	variables map[string]any
}

type mockRunner struct {
	mu    sync.Mutex
	calls []firedCall
}

func (m *mockRunner) RunDuration(_ context.Context, id rules.RuleID, variables map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, firedCall{id: id, variables: variables})
}

func (m *mockRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func sustainedRule(id rules.RuleID, deviceID string, minutes int) rules.Rule {
	return rules.Rule{
		ID:       id,
		Name:     string(id),
		Enabled:  true,
		Priority: 50,
		Triggers: []rules.Trigger{{
			Type:            rules.TriggerDeviceState,
			DeviceID:        deviceID,
			Attribute:       "motion",
			Operator:        rules.OpEquals,
			Value:           "active",
			DurationMinutes: minutes,
		}},
		Actions: []rules.Action{{
			Type:     rules.ActionDeviceCommand,
			DeviceID: "light-01",
			Command:  "off",
		}},
	}
}

// testClock is a settable clock shared with the tracker.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupTracker(src *mockSource, runner *mockRunner) (*Tracker, *testClock) {
	clock := newTestClock()
	tr := New(src, runner, time.Minute, nil)
	tr.clock = clock.Now
	return tr, clock
}

func event(deviceID, attribute string, value any) rules.DeviceEvent {
	return rules.DeviceEvent{DeviceID: deviceID, Attribute: attribute, Value: value}
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestTracker_FiresAfterHold(t *testing.T) {
	src := &mockSource{rules: []rules.Rule{sustainedRule("r1", "sensor-01", 10)}}
	runner := &mockRunner{}
	tr, clock := setupTracker(src, runner)
	ctx := context.Background()

	tr.UpdateDeviceState(event("sensor-01", "motion", "active"))

	// Not yet held long enough
	clock.Advance(5 * time.Minute)
	tr.check(ctx)
	if runner.count() != 0 {
		t.Fatal("fired before the hold matured")
	}

	clock.Advance(5 * time.Minute)
	tr.check(ctx)
	if runner.count() != 1 {
		t.Fatalf("fires = %d, want 1", runner.count())
	}

	call := runner.calls[0]
	if call.id != "r1" {
		t.Errorf("fired rule = %s, want r1", call.id)
	}
	if got, ok := call.variables["durationMinutes"]; !ok || got != 10 {
		t.Errorf("durationMinutes = %v, want 10", got)
	}
}

func TestTracker_FiresOncePerHold(t *testing.T) {
	src := &mockSource{rules: []rules.Rule{sustainedRule("r1", "sensor-01", 10)}}
	runner := &mockRunner{}
	tr, clock := setupTracker(src, runner)
	ctx := context.Background()

	tr.UpdateDeviceState(event("sensor-01", "motion", "active"))
	clock.Advance(15 * time.Minute)

	// Repeated checks within the same continuous hold fire exactly once
	tr.check(ctx)
	tr.check(ctx)
	clock.Advance(30 * time.Minute)
	tr.check(ctx)

	if runner.count() != 1 {
		t.Errorf("fires = %d, want 1 per continuous hold", runner.count())
	}
}

func TestTracker_ValueChangeResetsHold(t *testing.T) {
	src := &mockSource{rules: []rules.Rule{sustainedRule("r1", "sensor-01", 10)}}
	runner := &mockRunner{}
	tr, clock := setupTracker(src, runner)
	ctx := context.Background()

	tr.UpdateDeviceState(event("sensor-01", "motion", "active"))
	clock.Advance(15 * time.Minute)
	tr.check(ctx)
	if runner.count() != 1 {
		t.Fatalf("first hold fires = %d, want 1", runner.count())
	}

	// Value flips away and back: timer restarts, fired flag clears
	tr.UpdateDeviceState(event("sensor-01", "motion", "inactive"))
	tr.UpdateDeviceState(event("sensor-01", "motion", "active"))

	clock.Advance(5 * time.Minute)
	tr.check(ctx)
	if runner.count() != 1 {
		t.Fatal("new hold fired before maturing")
	}

	clock.Advance(6 * time.Minute)
	tr.check(ctx)
	if runner.count() != 2 {
		t.Errorf("fires = %d, want 2 after a fresh hold", runner.count())
	}
}

func TestTracker_RepeatedReportKeepsStartTime(t *testing.T) {
	src := &mockSource{rules: []rules.Rule{sustainedRule("r1", "sensor-01", 10)}}
	runner := &mockRunner{}
	tr, clock := setupTracker(src, runner)
	ctx := context.Background()

	tr.UpdateDeviceState(event("sensor-01", "motion", "active"))
	clock.Advance(8 * time.Minute)

	// Same value re-reported: the hold must not restart
	tr.UpdateDeviceState(event("sensor-01", "motion", "active"))
	clock.Advance(2 * time.Minute)
	tr.check(ctx)

	if runner.count() != 1 {
		t.Errorf("fires = %d, want 1 (10 minutes continuous)", runner.count())
	}
}

func TestTracker_NonMatchingValueNeverFires(t *testing.T) {
	src := &mockSource{rules: []rules.Rule{sustainedRule("r1", "sensor-01", 10)}}
	runner := &mockRunner{}
	tr, clock := setupTracker(src, runner)

	tr.UpdateDeviceState(event("sensor-01", "motion", "inactive"))
	clock.Advance(time.Hour)
	tr.check(context.Background())

	if runner.count() != 0 {
		t.Error("a non-matching value should never fire")
	}
}

func TestTracker_NumericThresholdHold(t *testing.T) {
	rule := sustainedRule("r1", "thermo-01", 30)
	rule.Triggers[0].Attribute = "temperature"
	rule.Triggers[0].Operator = rules.OpGreaterThan
	rule.Triggers[0].Value = 25

	src := &mockSource{rules: []rules.Rule{rule}}
	runner := &mockRunner{}
	tr, clock := setupTracker(src, runner)
	ctx := context.Background()

	tr.UpdateDeviceState(event("thermo-01", "temperature", 27.5))
	clock.Advance(31 * time.Minute)
	tr.check(ctx)

	if runner.count() != 1 {
		t.Errorf("fires = %d, want 1 for sustained high temperature", runner.count())
	}
}

func TestTracker_RuleChangeClearsFiredFlag(t *testing.T) {
	rule := sustainedRule("r1", "sensor-01", 10)
	src := &mockSource{rules: []rules.Rule{rule}}
	runner := &mockRunner{}
	tr, clock := setupTracker(src, runner)
	ctx := context.Background()

	tr.UpdateDeviceState(event("sensor-01", "motion", "active"))
	clock.Advance(15 * time.Minute)
	tr.check(ctx)
	if runner.count() != 1 {
		t.Fatalf("fires = %d, want 1", runner.count())
	}

	// An edited rule starts fresh against the ongoing hold
	tr.RuleChanged(&rule)
	tr.check(ctx)
	if runner.count() != 2 {
		t.Errorf("fires = %d, want 2 after rule change reset", runner.count())
	}
}

func TestTracker_MultipleRulesSameState(t *testing.T) {
	src := &mockSource{rules: []rules.Rule{
		sustainedRule("r1", "sensor-01", 5),
		sustainedRule("r2", "sensor-01", 10),
	}}
	runner := &mockRunner{}
	tr, clock := setupTracker(src, runner)
	ctx := context.Background()

	tr.UpdateDeviceState(event("sensor-01", "motion", "active"))

	clock.Advance(6 * time.Minute)
	tr.check(ctx)
	if runner.count() != 1 {
		t.Fatalf("fires = %d, want 1 (only the 5 minute rule)", runner.count())
	}

	clock.Advance(5 * time.Minute)
	tr.check(ctx)
	if runner.count() != 2 {
		t.Errorf("fires = %d, want 2 (both rules matured)", runner.count())
	}
}

func TestTracker_Status(t *testing.T) {
	src := &mockSource{}
	runner := &mockRunner{}
	tr, clock := setupTracker(src, runner)

	tr.UpdateDeviceState(event("sensor-01", "motion", "active"))
	clock.Advance(3 * time.Minute)

	status := tr.Status()
	if len(status) != 1 {
		t.Fatalf("status entries = %d, want 1", len(status))
	}
	e := status[0]
	if e.DeviceID != "sensor-01" || e.Attribute != "motion" || e.Value != "active" {
		t.Errorf("entry = %+v", e)
	}
	if e.HeldFor != "3m0s" {
		t.Errorf("held_for = %q, want 3m0s", e.HeldFor)
	}
}

func TestTracker_StartStop(t *testing.T) {
	src := &mockSource{}
	tr := New(src, &mockRunner{}, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	tr.Stop() // must return promptly without deadlock
}
