package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// documentVersion identifies the persisted document format.
const documentVersion = "1.0"

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ChangeListener is notified after every successful store mutation so
// dependent components (scheduler, duration tracker) can recompute their
// subscriptions for the affected rule.
//
// Listeners are invoked synchronously from the mutating call, after the
// in-memory state has been updated. They must not call back into
// mutating store methods.
type ChangeListener interface {
	// RuleChanged is called after a rule is created, updated, or has
	// its enabled state toggled. The rule is a private copy.
	RuleChanged(rule *Rule)

	// RuleRemoved is called after a rule is deleted.
	RuleRemoved(id RuleID)
}

// document is the persisted rule collection. The whole document is
// rewritten on every mutation; there is no incremental patching.
type document struct {
	Version      string    `json:"version"`
	Rules        []Rule    `json:"rules"`
	LastModified time.Time `json:"lastModified"`
}

// Store provides durable CRUD over rules.
//
// The in-memory map is the source of truth. Every mutation rewrites the
// full document to disk through a single serialized writer (temp file +
// rename), so concurrent mutations never interleave partial writes. A
// persistence failure is surfaced to the caller but does not roll back
// the in-memory change; the next successful flush writes the current
// state.
//
// Reads are guarded by an RWMutex and are never blocked by an in-flight
// disk write; they may observe a version slightly ahead of what is on
// disk.
type Store struct {
	mu    sync.RWMutex
	rules map[RuleID]*Rule

	// persistMu is the single pending-write queue: writers line up here
	// so document writes are strictly serialized.
	persistMu sync.Mutex
	path      string

	listenerMu sync.RWMutex
	listeners  []ChangeListener

	logger Logger
	clock  func() time.Time
}

// NewStore creates a rule store persisting to the given file path.
// Call Load before use to read any existing document.
func NewStore(path string) *Store {
	return &Store{
		rules:  make(map[RuleID]*Rule),
		path:   path,
		logger: noopLogger{},
		clock:  time.Now,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// AddListener registers a change listener. Not safe to call concurrently
// with mutations; wire listeners during startup.
func (s *Store) AddListener(l ChangeListener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenerMu.Unlock()
}

// Load reads the persisted document into memory. A missing file is not
// an error; the store starts empty.
func (s *Store) Load(_ context.Context) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("no rule document found, starting empty", "path", s.path)
			return nil
		}
		return fmt.Errorf("reading rule document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing rule document: %w", err)
	}

	s.mu.Lock()
	s.rules = make(map[RuleID]*Rule, len(doc.Rules))
	for i := range doc.Rules {
		r := doc.Rules[i]
		s.rules[r.ID] = &r
	}
	s.mu.Unlock()

	s.logger.Info("rule document loaded", "path", s.path, "rules", len(doc.Rules), "version", doc.Version)
	return nil
}

// Create validates and stores a new rule.
func (s *Store) Create(_ context.Context, req CreateRuleRequest, origin Origin) (*Rule, error) {
	now := s.clock().UTC()

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	priority := req.Priority
	if priority == 0 {
		priority = defaultPriority
	}

	rule := &Rule{
		ID:           NewRuleID(),
		Name:         req.Name,
		Description:  req.Description,
		Enabled:      enabled,
		Priority:     priority,
		Triggers:     req.Triggers,
		Conditions:   req.Conditions,
		Actions:      req.Actions,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    origin,
		OriginPrompt: req.OriginPrompt,
	}

	if err := ValidateRule(rule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.rules[rule.ID] = rule.DeepCopy()
	s.mu.Unlock()

	err := s.persist()
	s.notifyChanged(rule)

	s.logger.Info("rule created", "rule_id", rule.ID, "name", rule.Name, "origin", origin)
	return rule.DeepCopy(), err
}

// Update applies a partial patch to an existing rule.
func (s *Store) Update(_ context.Context, id RuleID, patch UpdateRuleRequest) (*Rule, error) {
	s.mu.Lock()
	existing, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrRuleNotFound
	}

	updated := existing.DeepCopy()
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.Enabled != nil {
		updated.Enabled = *patch.Enabled
	}
	if patch.Priority != nil {
		updated.Priority = *patch.Priority
	}
	if patch.Triggers != nil {
		updated.Triggers = *patch.Triggers
	}
	if patch.Conditions != nil {
		updated.Conditions = *patch.Conditions
	}
	if patch.Actions != nil {
		updated.Actions = *patch.Actions
	}
	updated.UpdatedAt = s.clock().UTC()

	if err := ValidateRule(updated); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.rules[id] = updated
	s.mu.Unlock()

	err := s.persist()
	s.notifyChanged(updated)

	s.logger.Info("rule updated", "rule_id", id, "name", updated.Name)
	return updated.DeepCopy(), err
}

// Delete removes a rule. Returns ErrRuleNotFound for unknown IDs.
func (s *Store) Delete(_ context.Context, id RuleID) error {
	s.mu.Lock()
	if _, ok := s.rules[id]; !ok {
		s.mu.Unlock()
		return ErrRuleNotFound
	}
	delete(s.rules, id)
	s.mu.Unlock()

	err := s.persist()
	s.notifyRemoved(id)

	s.logger.Info("rule deleted", "rule_id", id)
	return err
}

// Get retrieves a rule by ID. The returned rule is a deep copy.
func (s *Store) Get(_ context.Context, id RuleID) (*Rule, error) {
	s.mu.RLock()
	rule, ok := s.rules[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrRuleNotFound
	}
	return rule.DeepCopy(), nil
}

// GetAll returns all rules sorted ascending by priority (then name for
// deterministic ordering).
func (s *Store) GetAll(_ context.Context) []Rule {
	s.mu.RLock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, *r.DeepCopy())
	}
	s.mu.RUnlock()

	sortRules(out)
	return out
}

// GetEnabled returns all enabled rules sorted ascending by priority.
func (s *Store) GetEnabled(_ context.Context) []Rule {
	s.mu.RLock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, *r.DeepCopy())
		}
	}
	s.mu.RUnlock()

	sortRules(out)
	return out
}

// SetEnabled toggles a rule's enabled flag.
func (s *Store) SetEnabled(_ context.Context, id RuleID, enabled bool) (*Rule, error) {
	s.mu.Lock()
	rule, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrRuleNotFound
	}
	rule.Enabled = enabled
	rule.UpdatedAt = s.clock().UTC()
	cpy := rule.DeepCopy()
	s.mu.Unlock()

	err := s.persist()
	s.notifyChanged(cpy)

	s.logger.Info("rule enabled state changed", "rule_id", id, "enabled", enabled)
	return cpy.DeepCopy(), err
}

// RecordExecution increments the rule's execution count and stamps the
// last execution time. It does not notify change listeners; execution
// bookkeeping does not alter scheduling.
func (s *Store) RecordExecution(_ context.Context, id RuleID) error {
	s.mu.Lock()
	rule, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return ErrRuleNotFound
	}
	now := s.clock().UTC()
	rule.ExecutionCount++
	rule.LastExecutedAt = &now
	s.mu.Unlock()

	return s.persist()
}

// FindMatchingRules scans enabled rules' device_state triggers and
// returns those whose operator matches the incoming value. Sustained
// (duration) triggers are excluded; the duration tracker owns those.
func (s *Store) FindMatchingRules(deviceID, attribute string, value any) []Rule {
	s.mu.RLock()
	var out []Rule
	for _, r := range s.rules {
		if !r.Enabled {
			continue
		}
		for _, t := range r.Triggers {
			if t.Type != TriggerDeviceState || t.IsDurationTrigger() {
				continue
			}
			if t.DeviceID != deviceID || t.Attribute != attribute {
				continue
			}
			if Compare(t.Operator, value, t.Value, t.ValueEnd) {
				out = append(out, *r.DeepCopy())
				break
			}
		}
	}
	s.mu.RUnlock()

	sortRules(out)
	return out
}

// Count returns the number of stored rules.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Flush forces a synchronous write of the current rule set. Useful at
// shutdown to make sure the last state reached disk.
func (s *Store) Flush() error {
	return s.persist()
}

// persist serializes the current rule set and rewrites the document
// atomically (temp file + rename). Callers hold no store lock;
// persistMu serializes writers so a slow disk never interleaves two
// documents.
func (s *Store) persist() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	doc := document{
		Version:      documentVersion,
		Rules:        make([]Rule, 0, len(s.rules)),
		LastModified: s.clock().UTC(),
	}
	for _, r := range s.rules {
		doc.Rules = append(doc.Rules, *r.DeepCopy())
	}
	s.mu.RUnlock()
	sortRules(doc.Rules)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshalling document: %w", ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: creating directory: %w", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(dir, ".rules-*.json")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrPersistence, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing document: %w", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing temp file: %w", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replacing document: %w", ErrPersistence, err)
	}

	return nil
}

func (s *Store) notifyChanged(rule *Rule) {
	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		l.RuleChanged(rule.DeepCopy())
	}
}

func (s *Store) notifyRemoved(id RuleID) {
	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		l.RuleRemoved(id)
	}
}

// sortRules orders rules ascending by priority, then name.
func sortRules(rs []Rule) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Priority != rs[j].Priority {
			return rs[i].Priority < rs[j].Priority
		}
		return rs[i].Name < rs[j].Name
	})
}
