package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"conduit/internal/mood"
)

// MoodRecord is one mood a component reported.
type MoodRecord struct {
	ID         int64     `json:"id"`
	Component  string    `json:"component"`
	Worker     string    `json:"worker,omitempty"`
	Mood       mood.Mood `json:"mood"`
	Message    string    `json:"message,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordMood appends a mood change. A zero RecordedAt is stamped with the
// current time.
func (s *Store) RecordMood(ctx context.Context, rec MoodRecord) (MoodRecord, error) {
	if strings.TrimSpace(rec.Component) == "" {
		return rec, fmt.Errorf("record mood: component is required")
	}
	if !rec.Mood.Valid() {
		return rec, fmt.Errorf("record mood: invalid mood %d", int(rec.Mood))
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	res, err := s.exec(ctx,
		`INSERT INTO mood_history (component, worker, mood, message, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Component,
		nullableString(rec.Worker),
		rec.Mood.String(),
		nullableString(rec.Message),
		formatTime(rec.RecordedAt),
	)
	if err != nil {
		return rec, fmt.Errorf("insert mood: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return rec, fmt.Errorf("last insert id: %w", err)
	}
	return rec, nil
}

// MoodHistory returns the newest records first. An empty component returns
// every component; limit <= 0 means no limit.
func (s *Store) MoodHistory(ctx context.Context, component string, limit int) ([]MoodRecord, error) {
	query := `SELECT id, component, worker, mood, message, recorded_at FROM mood_history`
	var args []any
	if component != "" {
		query += ` WHERE component = ?`
		args = append(args, component)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryMoods(ctx, query, args...)
}

// LatestMoods returns the last recorded mood of every component, sorted by
// component name.
func (s *Store) LatestMoods(ctx context.Context) ([]MoodRecord, error) {
	return s.queryMoods(ctx,
		`SELECT id, component, worker, mood, message, recorded_at FROM mood_history
         WHERE id IN (SELECT MAX(id) FROM mood_history GROUP BY component)
         ORDER BY component`)
}

func (s *Store) queryMoods(ctx context.Context, query string, args ...any) ([]MoodRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mood history: %w", err)
	}
	defer rows.Close()

	var out []MoodRecord
	for rows.Next() {
		var (
			rec      MoodRecord
			worker   sql.NullString
			moodName string
			message  sql.NullString
			recorded string
		)
		if err := rows.Scan(&rec.ID, &rec.Component, &worker, &moodName, &message, &recorded); err != nil {
			return nil, fmt.Errorf("scan mood history: %w", err)
		}
		m, err := mood.Parse(moodName)
		if err != nil {
			return nil, fmt.Errorf("mood history row %d: %w", rec.ID, err)
		}
		rec.Worker = worker.String
		rec.Mood = m
		rec.Message = message.String
		rec.RecordedAt = parseTime(recorded)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mood history: %w", err)
	}
	return out, nil
}
