package analyzer

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hearthlight/hearth-core/internal/rules"
)

// DefaultBufferSize is the event ring capacity when none is configured.
const DefaultBufferSize = 10000

// Detection thresholds.
const (
	minTimePatternConfidence  = 0.5
	minCorrelationConfidence  = 0.3
	defaultMinOccurrences     = 3
	defaultToleranceMinutes   = 15
	defaultCorrelationWindow  = 60
	suggestionDefaultPriority = 50
)

// TimePattern is a recurring device action around a consistent time of
// day.
type TimePattern struct {
	DeviceID    string   `json:"device_id"`
	Attribute   string   `json:"attribute"`
	Value       any      `json:"value"`
	Hour        int      `json:"hour"`
	Minute      int      `json:"minute"`
	Occurrences int      `json:"occurrences"`
	Confidence  float64  `json:"confidence"`
	Days        []string `json:"days"`
}

// Correlation is a pair of device events that repeatedly occur within a
// short window of each other.
type Correlation struct {
	FirstDeviceID   string  `json:"first_device_id"`
	FirstAttribute  string  `json:"first_attribute"`
	FirstValue      any     `json:"first_value"`
	SecondDeviceID  string  `json:"second_device_id"`
	SecondAttribute string  `json:"second_attribute"`
	SecondValue     any     `json:"second_value"`
	Occurrences     int     `json:"occurrences"`
	MeanDelaySec    float64 `json:"mean_delay_sec"`
	Confidence      float64 `json:"confidence"`
}

// Suggestion is a proposed rule derived from observed behaviour. The
// embedded request always has Enabled=false; suggestions require
// explicit user adoption.
type Suggestion struct {
	Request   rules.CreateRuleRequest `json:"request"`
	Reasoning string                  `json:"reasoning"`
}

// Stats summarizes the analyzer's buffer.
type Stats struct {
	Events   int        `json:"events"`
	Capacity int        `json:"capacity"`
	Devices  int        `json:"devices"`
	Oldest   *time.Time `json:"oldest,omitempty"`
	Newest   *time.Time `json:"newest,omitempty"`
}

// Analyzer keeps a bounded in-memory history of device events and mines
// it for time-of-day patterns and device correlations.
//
// The buffer is a fixed-capacity ring: when full, the oldest event is
// overwritten. Analysis walks a snapshot taken under the lock, so
// detection never blocks event recording for long.
//
// Thread Safety: all methods are safe for concurrent use.
type Analyzer struct {
	mu     sync.Mutex
	buf    []rules.DeviceEvent
	next   int
	filled bool
}

// New creates an analyzer with the given ring capacity. A non-positive
// size falls back to DefaultBufferSize.
func New(size int) *Analyzer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Analyzer{buf: make([]rules.DeviceEvent, size)}
}

// Record appends a device event to the ring, overwriting the oldest
// entry when full. Implements engine.EventRecorder.
func (a *Analyzer) Record(evt rules.DeviceEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	a.mu.Lock()
	a.buf[a.next] = evt
	a.next++
	if a.next == len(a.buf) {
		a.next = 0
		a.filled = true
	}
	a.mu.Unlock()
}

// Clear empties the buffer.
func (a *Analyzer) Clear() {
	a.mu.Lock()
	a.next = 0
	a.filled = false
	a.mu.Unlock()
}

// Stats returns buffer occupancy and the covered time range.
func (a *Analyzer) Stats() Stats {
	events := a.snapshot()

	stats := Stats{Events: len(events), Capacity: a.capacity()}
	devices := make(map[string]struct{})
	for i := range events {
		devices[events[i].DeviceID] = struct{}{}
	}
	stats.Devices = len(devices)

	if len(events) > 0 {
		oldest := events[0].Timestamp
		newest := events[len(events)-1].Timestamp
		stats.Oldest = &oldest
		stats.Newest = &newest
	}
	return stats
}

// DetectTimePatterns finds device events that recur around the same time
// of day. Events are grouped by device, attribute, and value, then
// bucketed by hour and tolerance-rounded minute; a bucket holding at
// least minOccurrences of its signature's events becomes a pattern with
// confidence = bucket size / signature total.
func (a *Analyzer) DetectTimePatterns(minOccurrences, toleranceMinutes int) []TimePattern {
	if minOccurrences <= 0 {
		minOccurrences = defaultMinOccurrences
	}
	if toleranceMinutes <= 0 {
		toleranceMinutes = defaultToleranceMinutes
	}

	events := a.snapshot()

	type bucket struct {
		count int
		days  map[string]struct{}
	}
	// signature → "HH:MM bucket" → occurrences
	sigBuckets := make(map[string]map[string]*bucket)
	sigTotals := make(map[string]int)

	for i := range events {
		evt := &events[i]
		sig := signature(evt.DeviceID, evt.Attribute, evt.Value)
		sigTotals[sig]++

		minute := evt.Timestamp.Minute()
		minute -= minute % toleranceMinutes
		slot := fmt.Sprintf("%02d:%02d", evt.Timestamp.Hour(), minute)

		if sigBuckets[sig] == nil {
			sigBuckets[sig] = make(map[string]*bucket)
		}
		b := sigBuckets[sig][slot]
		if b == nil {
			b = &bucket{days: make(map[string]struct{})}
			sigBuckets[sig][slot] = b
		}
		b.count++
		b.days[weekdayCode(evt.Timestamp.Weekday())] = struct{}{}
	}

	var patterns []TimePattern
	for i := range events {
		evt := &events[i]
		sig := signature(evt.DeviceID, evt.Attribute, evt.Value)
		buckets, ok := sigBuckets[sig]
		if !ok {
			continue
		}
		delete(sigBuckets, sig) // emit each signature once

		for slot, b := range buckets {
			if b.count < minOccurrences {
				continue
			}
			var hour, minute int
			fmt.Sscanf(slot, "%d:%d", &hour, &minute)

			days := make([]string, 0, len(b.days))
			for d := range b.days {
				days = append(days, d)
			}
			sort.Strings(days)

			patterns = append(patterns, TimePattern{
				DeviceID:    evt.DeviceID,
				Attribute:   evt.Attribute,
				Value:       evt.Value,
				Hour:        hour,
				Minute:      minute,
				Occurrences: b.count,
				Confidence:  float64(b.count) / float64(sigTotals[sig]),
				Days:        days,
			})
		}
	}

	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].Confidence > patterns[j].Confidence
	})
	return patterns
}

// DetectCorrelations finds ordered pairs of events on distinct devices
// that repeatedly occur within windowSeconds of each other. Confidence
// is pair occurrences over total buffered events.
func (a *Analyzer) DetectCorrelations(windowSeconds, minOccurrences int) []Correlation {
	if windowSeconds <= 0 {
		windowSeconds = defaultCorrelationWindow
	}
	if minOccurrences <= 0 {
		minOccurrences = defaultMinOccurrences
	}

	events := a.snapshot()
	if len(events) < 2 {
		return nil
	}

	window := time.Duration(windowSeconds) * time.Second

	type pairStats struct {
		first, second *rules.DeviceEvent
		count         int
		totalDelay    time.Duration
	}
	pairs := make(map[string]*pairStats)

	for i := range events {
		first := &events[i]
		for j := i + 1; j < len(events); j++ {
			second := &events[j]
			delay := second.Timestamp.Sub(first.Timestamp)
			if delay > window {
				break
			}
			if second.DeviceID == first.DeviceID {
				continue
			}

			key := signature(first.DeviceID, first.Attribute, first.Value) +
				"->" + signature(second.DeviceID, second.Attribute, second.Value)
			ps := pairs[key]
			if ps == nil {
				ps = &pairStats{first: first, second: second}
				pairs[key] = ps
			}
			ps.count++
			ps.totalDelay += delay
		}
	}

	var out []Correlation
	for _, ps := range pairs {
		if ps.count < minOccurrences {
			continue
		}
		out = append(out, Correlation{
			FirstDeviceID:   ps.first.DeviceID,
			FirstAttribute:  ps.first.Attribute,
			FirstValue:      ps.first.Value,
			SecondDeviceID:  ps.second.DeviceID,
			SecondAttribute: ps.second.Attribute,
			SecondValue:     ps.second.Value,
			Occurrences:     ps.count,
			MeanDelaySec:    (ps.totalDelay / time.Duration(ps.count)).Seconds(),
			Confidence:      float64(ps.count) / float64(len(events)),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// GenerateSuggestions turns high-confidence patterns and correlations
// into disabled rule drafts for user review.
func (a *Analyzer) GenerateSuggestions() []Suggestion {
	var suggestions []Suggestion
	disabled := false

	for _, p := range a.DetectTimePatterns(defaultMinOccurrences, defaultToleranceMinutes) {
		if p.Confidence < minTimePatternConfidence {
			continue
		}

		reasoning := fmt.Sprintf(
			"device %s %s=%v observed %d times around %02d:%02d (confidence %.0f%%)",
			p.DeviceID, p.Attribute, p.Value, p.Occurrences, p.Hour, p.Minute, p.Confidence*100)

		suggestions = append(suggestions, Suggestion{
			Reasoning: reasoning,
			Request: rules.CreateRuleRequest{
				Name: fmt.Sprintf("Suggested: %s %s at %02d:%02d",
					p.DeviceID, commandForValue(p.Value), p.Hour, p.Minute),
				Description:  "Generated from an observed daily pattern.",
				Enabled:      &disabled,
				Priority:     suggestionDefaultPriority,
				OriginPrompt: reasoning,
				Triggers: []rules.Trigger{{
					Type: rules.TriggerTime,
					Time: fmt.Sprintf("%02d:%02d", p.Hour, p.Minute),
					Days: p.Days,
				}},
				Actions: []rules.Action{{
					Type:     rules.ActionDeviceCommand,
					DeviceID: p.DeviceID,
					Command:  commandForValue(p.Value),
				}},
			},
		})
	}

	for _, c := range a.DetectCorrelations(defaultCorrelationWindow, defaultMinOccurrences) {
		if c.Confidence < minCorrelationConfidence {
			continue
		}

		reasoning := fmt.Sprintf(
			"%s %s=%v was followed by %s %s=%v %d times, mean delay %.0fs (confidence %.0f%%)",
			c.FirstDeviceID, c.FirstAttribute, c.FirstValue,
			c.SecondDeviceID, c.SecondAttribute, c.SecondValue,
			c.Occurrences, c.MeanDelaySec, c.Confidence*100)

		// Reproduce the observed lag between the two devices. Sub-second
		// means are noise and skipped.
		actions := make([]rules.Action, 0, 2)
		if delay := int(math.Round(c.MeanDelaySec)); delay >= 1 {
			actions = append(actions, rules.Action{
				Type:    rules.ActionDelay,
				Seconds: delay,
			})
		}
		actions = append(actions, rules.Action{
			Type:     rules.ActionDeviceCommand,
			DeviceID: c.SecondDeviceID,
			Command:  commandForValue(c.SecondValue),
		})

		suggestions = append(suggestions, Suggestion{
			Reasoning: reasoning,
			Request: rules.CreateRuleRequest{
				Name: fmt.Sprintf("Suggested: %s follows %s",
					c.SecondDeviceID, c.FirstDeviceID),
				Description:  "Generated from an observed device correlation.",
				Enabled:      &disabled,
				Priority:     suggestionDefaultPriority,
				OriginPrompt: reasoning,
				Triggers: []rules.Trigger{{
					Type:      rules.TriggerDeviceState,
					DeviceID:  c.FirstDeviceID,
					Attribute: c.FirstAttribute,
					Operator:  rules.OpEquals,
					Value:     c.FirstValue,
				}},
				Actions: actions,
			},
		})
	}

	return suggestions
}

// snapshot returns the buffered events in chronological order.
func (a *Analyzer) snapshot() []rules.DeviceEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.filled {
		out := make([]rules.DeviceEvent, a.next)
		copy(out, a.buf[:a.next])
		return out
	}

	out := make([]rules.DeviceEvent, 0, len(a.buf))
	out = append(out, a.buf[a.next:]...)
	out = append(out, a.buf[:a.next]...)
	return out
}

func (a *Analyzer) capacity() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// commandForValue guesses a device command reproducing an observed
// value. Switch-like string values map directly; everything else falls
// back to "on".
func commandForValue(v any) string {
	if s, ok := v.(string); ok {
		switch s {
		case "on", "off", "open", "close", "lock", "unlock", "active", "inactive":
			if s == "active" {
				return "on"
			}
			if s == "inactive" {
				return "off"
			}
			return s
		}
	}
	return "on"
}

func signature(deviceID, attribute string, value any) string {
	return fmt.Sprintf("%s|%s|%v", deviceID, attribute, value)
}

func weekdayCode(d time.Weekday) string {
	return [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}[d]
}
