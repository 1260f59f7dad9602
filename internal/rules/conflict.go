package rules

import (
	"fmt"
	"sort"
)

// ConflictType classifies a detected rule conflict.
type ConflictType string

const (
	// ConflictOpposing means one rule turns a device on while another
	// turns it off.
	ConflictOpposing ConflictType = "opposing_commands"

	// ConflictDuplicate means two or more rules send the identical
	// command to the same device. Possibly redundant, not necessarily
	// wrong.
	ConflictDuplicate ConflictType = "duplicate_commands"

	// ConflictPriority means two rules share the same priority but send
	// different commands to the same device, so their relative intent is
	// ambiguous.
	ConflictPriority ConflictType = "priority_conflict"
)

// SeverityWarning is the only severity currently emitted. Conflicts are
// advisory; nothing blocks saving a conflicting rule.
const SeverityWarning = "warning"

// RuleRef identifies one side of a conflict.
type RuleRef struct {
	ID       RuleID `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// Conflict describes a single detected conflict between two rules over
// one device.
type Conflict struct {
	Type        ConflictType `json:"type"`
	Severity    string       `json:"severity"`
	DeviceID    string       `json:"device_id"`
	Rules       []RuleRef    `json:"rules"`
	Commands    []string     `json:"commands"`
	Description string       `json:"description"`
}

// deviceCommand is a flattened (device, command) pair extracted from a
// rule's actions, including actions nested inside sequences.
type deviceCommand struct {
	deviceID string
	command  string
}

// DetectConflicts runs static analysis over the given rules (callers pass
// the enabled set) and returns all pairwise conflicts. The analysis is
// read-only and purely structural; it does not consider conditions or
// trigger overlap.
func DetectConflicts(enabled []Rule) []Conflict {
	var out []Conflict
	for i := range enabled {
		for j := i + 1; j < len(enabled); j++ {
			out = append(out, pairConflicts(&enabled[i], &enabled[j])...)
		}
	}
	return out
}

// CheckRuleConflicts runs the same checks pairwise between a candidate
// rule and all other rules, for use before persisting a new or edited
// rule. The candidate is compared even if currently disabled; others
// should be the enabled set excluding the candidate itself.
func CheckRuleConflicts(candidate *Rule, others []Rule) []Conflict {
	var out []Conflict
	for i := range others {
		if others[i].ID == candidate.ID {
			continue
		}
		out = append(out, pairConflicts(candidate, &others[i])...)
	}
	return out
}

// pairConflicts compares the device commands of two rules and reports
// every conflict between them.
func pairConflicts(a, b *Rule) []Conflict {
	aCmds := commandsByDevice(a.Actions)
	bCmds := commandsByDevice(b.Actions)

	var out []Conflict
	for device, ac := range aCmds {
		bc, ok := bCmds[device]
		if !ok {
			continue
		}

		refs := []RuleRef{
			{ID: a.ID, Name: a.Name, Priority: a.Priority},
			{ID: b.ID, Name: b.Name, Priority: b.Priority},
		}

		if (ac["on"] && bc["off"]) || (ac["off"] && bc["on"]) {
			out = append(out, Conflict{
				Type:        ConflictOpposing,
				Severity:    SeverityWarning,
				DeviceID:    device,
				Rules:       refs,
				Commands:    []string{"on", "off"},
				Description: fmt.Sprintf("rules %q and %q send opposing on/off commands to device %s", a.Name, b.Name, device),
			})
		}

		if shared := sharedCommands(ac, bc); len(shared) > 0 {
			out = append(out, Conflict{
				Type:        ConflictDuplicate,
				Severity:    SeverityWarning,
				DeviceID:    device,
				Rules:       refs,
				Commands:    shared,
				Description: fmt.Sprintf("rules %q and %q both send %v to device %s", a.Name, b.Name, shared, device),
			})
		}

		if a.Priority == b.Priority && !sameCommandSet(ac, bc) {
			out = append(out, Conflict{
				Type:        ConflictPriority,
				Severity:    SeverityWarning,
				DeviceID:    device,
				Rules:       refs,
				Commands:    append(commandList(ac), commandList(bc)...),
				Description: fmt.Sprintf("rules %q and %q share priority %d but send different commands to device %s", a.Name, b.Name, a.Priority, device),
			})
		}
	}
	return out
}

// commandsByDevice flattens a rule's device_command actions (recursing
// into sequences) into a per-device command set.
func commandsByDevice(actions []Action) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for _, dc := range flattenCommands(actions) {
		set, ok := out[dc.deviceID]
		if !ok {
			set = make(map[string]bool)
			out[dc.deviceID] = set
		}
		set[dc.command] = true
	}
	return out
}

func flattenCommands(actions []Action) []deviceCommand {
	var out []deviceCommand
	for _, a := range actions {
		switch a.Type {
		case ActionDeviceCommand:
			out = append(out, deviceCommand{deviceID: a.DeviceID, command: a.Command})
		case ActionSequence:
			out = append(out, flattenCommands(a.Actions)...)
		}
	}
	return out
}

func sharedCommands(a, b map[string]bool) []string {
	var out []string
	for cmd := range a {
		if b[cmd] {
			out = append(out, cmd)
		}
	}
	sort.Strings(out)
	return out
}

func sameCommandSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for cmd := range a {
		if !b[cmd] {
			return false
		}
	}
	return true
}

func commandList(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for cmd := range set {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}
