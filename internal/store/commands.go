package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/drewfead/autocoder/internal/control"
)

// CommandRecord is one journaled agent command.
type CommandRecord struct {
	ID           string
	Project      string
	Command      string
	StatusBefore string
	StatusAfter  string
	Outcome      string
	Error        string
	IssuedAt     time.Time
	ResolvedAt   *time.Time
}

// RecordOutcome journals a command transition. The first outcome for an ID
// inserts the row; later outcomes update it.
func (s *Store) RecordOutcome(ctx context.Context, o control.Outcome) error {
	id := o.ID
	if id == "" {
		id = uuid.NewString()
	}
	var errText sql.NullString
	if o.Err != nil {
		errText = sql.NullString{String: o.Err.Error(), Valid: true}
	}
	var after sql.NullString
	if o.To != "" {
		after = sql.NullString{String: string(o.To), Valid: true}
	}
	var resolved sql.NullInt64
	if o.Final() {
		resolved = sql.NullInt64{Int64: o.At.UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (id, project, command, status_before, status_after, outcome, error, issued_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status_after = excluded.status_after,
			outcome = excluded.outcome,
			error = excluded.error,
			resolved_at = excluded.resolved_at
	`, id, o.Project, string(o.Command), string(o.From), after, string(o.Kind), errText, o.At.UnixMilli(), resolved)
	return err
}

// ListCommands returns the most recent commands for project, newest first.
// An empty project lists all projects. limit <= 0 means no limit.
func (s *Store) ListCommands(ctx context.Context, project string, limit int) ([]*CommandRecord, error) {
	query := `
		SELECT id, project, command, status_before, status_after, outcome, error, issued_at, resolved_at
		FROM commands
		WHERE (? = '' OR project = ?)
		ORDER BY issued_at DESC, rowid DESC
	`
	args := []any{project, project}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CommandRecord
	for rows.Next() {
		r, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanCommand(rows *sql.Rows) (*CommandRecord, error) {
	var r CommandRecord
	var after, errText sql.NullString
	var issued int64
	var resolved sql.NullInt64
	if err := rows.Scan(&r.ID, &r.Project, &r.Command, &r.StatusBefore, &after, &r.Outcome, &errText, &issued, &resolved); err != nil {
		return nil, err
	}
	r.StatusAfter = after.String
	r.Error = errText.String
	r.IssuedAt = time.UnixMilli(issued)
	if resolved.Valid {
		t := time.UnixMilli(resolved.Int64)
		r.ResolvedAt = &t
	}
	return &r, nil
}
