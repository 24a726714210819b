package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/drewfead/autocoder/internal/api"
)

// CachedSnapshot summarizes a cached feature list.
type CachedSnapshot struct {
	Project   string
	Progress  api.Progress
	FetchedAt time.Time
}

// SaveSnapshot replaces the cached feature list for project.
func (s *Store) SaveSnapshot(ctx context.Context, project string, list *api.FeatureList, fetchedAt time.Time) error {
	payload, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	p := api.ProgressFromFeatures(list)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feature_snapshots (project, payload, passing, total, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project) DO UPDATE SET
			payload = excluded.payload,
			passing = excluded.passing,
			total = excluded.total,
			fetched_at = excluded.fetched_at
	`, project, string(payload), p.Passing, p.Total, fetchedAt.UnixMilli())
	return err
}

// LoadSnapshot returns the cached feature list for project, or ErrNotFound.
func (s *Store) LoadSnapshot(ctx context.Context, project string) (*api.FeatureList, time.Time, error) {
	var payload string
	var fetchedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM feature_snapshots WHERE project = ?`, project,
	).Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	var list api.FeatureList
	if err := json.Unmarshal([]byte(payload), &list); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode snapshot for %s: %w", project, err)
	}
	return &list, time.UnixMilli(fetchedAt), nil
}

// ListSnapshots summarizes every cached project, most recently fetched first.
func (s *Store) ListSnapshots(ctx context.Context) ([]CachedSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project, passing, total, fetched_at
		FROM feature_snapshots
		ORDER BY fetched_at DESC, project
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CachedSnapshot
	for rows.Next() {
		var c CachedSnapshot
		var passing, total int
		var fetchedAt int64
		if err := rows.Scan(&c.Project, &passing, &total, &fetchedAt); err != nil {
			return nil, err
		}
		c.Progress = api.NewProgress(passing, total)
		c.FetchedAt = time.UnixMilli(fetchedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteSnapshot drops the cached list for project.
func (s *Store) DeleteSnapshot(ctx context.Context, project string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM feature_snapshots WHERE project = ?`, project)
	return err
}
