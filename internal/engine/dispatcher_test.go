package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hearthlight/hearth-core/internal/rules"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// mockMatcher returns a fixed rule set for every event.
type mockMatcher struct {
	matched []rules.Rule
}

func (m *mockMatcher) FindMatchingRules(_, _ string, _ any) []rules.Rule {
	return m.matched
}

// mockRecorder counts recorded events.
type mockRecorder struct {
	mu     sync.Mutex
	events []rules.DeviceEvent
}

func (m *mockRecorder) Record(evt rules.DeviceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

// mockStateTracker counts state updates.
type mockStateTracker struct {
	mu      sync.Mutex
	updates []rules.DeviceEvent
}

func (m *mockStateTracker) UpdateDeviceState(evt rules.DeviceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, evt)
}

// mockEventWriter counts telemetry writes.
type mockEventWriter struct {
	mu     sync.Mutex
	writes int
}

func (m *mockEventWriter) WriteDeviceEvent(_ context.Context, _ rules.DeviceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func motionEvent(deviceID, value string) rules.DeviceEvent {
	return rules.DeviceEvent{
		DeviceID:  deviceID,
		Attribute: "motion",
		Value:     value,
		Timestamp: time.Now(),
	}
}

func TestDispatcher_ExecutesMatchedRules(t *testing.T) {
	rule := simpleRule("r1", "Motion light", lightOn("light-01"))
	store := newMockRuleStore(rule)
	x, devices := setupExecutor(store)

	matcher := &mockMatcher{matched: []rules.Rule{*rule}}
	d := NewDispatcher(matcher, x, nil)

	d.OnDeviceEvent(context.Background(), motionEvent("sensor-01", "active"))

	cmds := devices.captured()
	if len(cmds) != 1 {
		t.Fatalf("captured %d commands, want exactly 1", len(cmds))
	}
	if cmds[0].DeviceID != "light-01" || cmds[0].Command != "on" || cmds[0].Capability != "switch" {
		t.Errorf("command = %+v, want light-01 switch on", cmds[0])
	}
	if len(cmds[0].Args) != 0 {
		t.Errorf("args = %v, want empty", cmds[0].Args)
	}
}

func TestDispatcher_NoMatchesIsQuiet(t *testing.T) {
	store := newMockRuleStore()
	x, devices := setupExecutor(store)
	d := NewDispatcher(&mockMatcher{}, x, nil)

	d.OnDeviceEvent(context.Background(), motionEvent("sensor-01", "inactive"))

	if len(devices.captured()) != 0 {
		t.Error("no commands should run when nothing matches")
	}
}

func TestDispatcher_FansOutToCollaborators(t *testing.T) {
	store := newMockRuleStore()
	x, _ := setupExecutor(store)

	recorder := &mockRecorder{}
	tracker := &mockStateTracker{}
	writer := &mockEventWriter{}

	d := NewDispatcher(&mockMatcher{}, x, nil)
	d.SetRecorder(recorder)
	d.SetTracker(tracker)
	d.SetEventWriter(writer)

	evt := motionEvent("sensor-01", "active")
	d.OnDeviceEvent(context.Background(), evt)

	if len(recorder.events) != 1 {
		t.Errorf("recorder got %d events, want 1", len(recorder.events))
	}
	if len(tracker.updates) != 1 {
		t.Errorf("tracker got %d updates, want 1", len(tracker.updates))
	}
	if writer.writes != 1 {
		t.Errorf("writer got %d writes, want 1", writer.writes)
	}
}

func TestDispatcher_NilCollaboratorsSkipped(t *testing.T) {
	store := newMockRuleStore()
	x, _ := setupExecutor(store)
	d := NewDispatcher(&mockMatcher{}, x, nil)

	// Must not panic with recorder/tracker/writer unset
	d.OnDeviceEvent(context.Background(), motionEvent("sensor-01", "active"))
}

func TestDispatcher_FailedRuleDoesNotBlockOthers(t *testing.T) {
	failing := simpleRule("r1", "Broken", rules.Action{Type: rules.ActionExecuteRule, RuleID: "missing"})
	working := simpleRule("r2", "Working", lightOn("light-01"))
	store := newMockRuleStore(failing, working)
	x, devices := setupExecutor(store)

	matcher := &mockMatcher{matched: []rules.Rule{*failing, *working}}
	d := NewDispatcher(matcher, x, nil)

	d.OnDeviceEvent(context.Background(), motionEvent("sensor-01", "active"))

	if len(devices.captured()) != 1 {
		t.Error("a failing match must not prevent later matches from running")
	}
}

func TestDispatcher_ExecutionContextCarriesEvent(t *testing.T) {
	rule := simpleRule("r1", "Contextual", lightOn("light-01"))
	store := newMockRuleStore(rule)
	x, _ := setupExecutor(store)

	sink := &recordingSink{}
	x.AddSink(sink)

	d := NewDispatcher(&mockMatcher{matched: []rules.Rule{*rule}}, x, nil)
	d.OnDeviceEvent(context.Background(), motionEvent("sensor-01", "active"))

	if sink.count() != 1 {
		t.Fatalf("sink got %d records, want 1", sink.count())
	}
	if sink.records[0].TriggeredBy != TriggerEvent {
		t.Errorf("triggered_by = %q, want event", sink.records[0].TriggeredBy)
	}
}
