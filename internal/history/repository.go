// Package history provides access to the rule_executions table for
// querying past rule runs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hearthlight/hearth-core/internal/engine"
	"github.com/hearthlight/hearth-core/internal/rules"
)

// Execution is a stored rule execution record.
type Execution struct {
	ID          string                `json:"id"`
	RuleID      rules.RuleID          `json:"rule_id"`
	RuleName    string                `json:"rule_name"`
	TriggeredBy string                `json:"triggered_by"`
	Success     bool                  `json:"success"`
	Skipped     bool                  `json:"skipped"`
	Error       string                `json:"error,omitempty"`
	Actions     []engine.ActionResult `json:"actions,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	DurationMS  int64                 `json:"duration_ms"`
}

// Filter controls which executions to return.
type Filter struct {
	RuleID      rules.RuleID // optional: filter by rule
	TriggeredBy string       // optional: filter by trigger source (event, manual, schedule, rule_chain)
	FailedOnly  bool         // optional: only failed executions
	Limit       int          // default 50, max 200
	Offset      int          // pagination offset
}

// ListResult contains the paginated execution results.
type ListResult struct {
	Executions []Execution `json:"executions"`
	Total      int         `json:"total"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
}

// Repository stores execution records in SQLite. It implements
// engine.ExecutionSink so the executor can write records directly.
type Repository struct {
	db *sql.DB
}

// NewRepository creates an execution history repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordExecution inserts one completed execution. Action results are
// stored as a JSON column.
func (r *Repository) RecordExecution(ctx context.Context, result *engine.ExecutionResult) error {
	var actionsJSON *string
	if len(result.Actions) > 0 {
		b, err := json.Marshal(result.Actions)
		if err != nil {
			return fmt.Errorf("marshalling action results: %w", err)
		}
		s := string(b)
		actionsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rule_executions (id, rule_id, rule_name, triggered_by, success, skipped, error, actions, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, string(result.RuleID), result.RuleName, string(result.TriggeredBy),
		result.Success, result.Skipped,
		nullableString(result.Error), actionsJSON,
		result.StartedAt.Format(time.RFC3339), result.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting execution record: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns executions matching the filter, most recent first.
func (r *Repository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.RuleID != "" {
		conditions = append(conditions, "rule_id = ?")
		args = append(args, string(filter.RuleID))
	}
	if filter.TriggeredBy != "" {
		conditions = append(conditions, "triggered_by = ?")
		args = append(args, filter.TriggeredBy)
	}
	if filter.FailedOnly {
		conditions = append(conditions, "success = 0")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// WHERE clause is built from parameterised conditions (? placeholders).
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM rule_executions %s", where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting executions: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT id, rule_id, rule_name, triggered_by, success, skipped, error, actions, started_at, duration_ms FROM rule_executions %s ORDER BY started_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		var exec Execution
		var ruleID string
		var errMsg, actionsJSON sql.NullString
		var startedAt string

		if err := rows.Scan(&exec.ID, &ruleID, &exec.RuleName, &exec.TriggeredBy,
			&exec.Success, &exec.Skipped, &errMsg, &actionsJSON, &startedAt, &exec.DurationMS); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		exec.RuleID = rules.RuleID(ruleID)

		if errMsg.Valid {
			exec.Error = errMsg.String
		}
		if actionsJSON.Valid && actionsJSON.String != "" {
			var actions []engine.ActionResult
			if json.Unmarshal([]byte(actionsJSON.String), &actions) == nil {
				exec.Actions = actions
			}
		}

		t, err := time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing execution timestamp %q: %w", startedAt, err)
		}
		exec.StartedAt = t

		executions = append(executions, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}

	if executions == nil {
		executions = []Execution{}
	}

	return &ListResult{
		Executions: executions,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}, nil
}

// Prune deletes records older than the cutoff while always retaining the
// most recent keepAtLeast rows. Returns the number of deleted rows.
func (r *Repository) Prune(ctx context.Context, olderThan time.Time, keepAtLeast int) (int64, error) {
	if keepAtLeast < 0 {
		keepAtLeast = 0
	}

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM rule_executions
		 WHERE started_at < ?
		   AND id NOT IN (
		     SELECT id FROM rule_executions ORDER BY started_at DESC LIMIT ?
		   )`,
		olderThan.Format(time.RFC3339), keepAtLeast,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning executions: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned executions: %w", err)
	}
	return deleted, nil
}
