package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertEventUpdates appends update rows in one transaction and fills in
// their IDs and creation time.
func (db *DB) InsertEventUpdates(ctx context.Context, updates []EventUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert updates: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(db.now())
	stmt := db.dialect.rebind(
		`INSERT INTO event_updates (event_id, title, description, update_date, relevance_score,
		key_insights, summary, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)

	for i := range updates {
		u := &updates[i]
		insights, err := json.Marshal(nonNilStrings(u.KeyInsights))
		if err != nil {
			return fmt.Errorf("marshaling key insights: %w", err)
		}
		sources, err := json.Marshal(nonNilStrings(u.Sources))
		if err != nil {
			return fmt.Errorf("marshaling sources: %w", err)
		}
		err = tx.QueryRowContext(ctx, stmt, u.EventID, u.Title, u.Description, u.UpdateDate,
			u.RelevanceScore, string(insights), u.Summary, string(sources), now,
		).Scan(&u.ID)
		if err != nil {
			return fmt.Errorf("inserting update %q: %w", u.Title, err)
		}
		u.CreatedAt = parseTime(now)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert updates: %w", err)
	}
	return nil
}

// GetEventUpdates returns an event's updates, newest date first.
func (db *DB) GetEventUpdates(ctx context.Context, eventID int64) ([]EventUpdate, error) {
	rows, err := db.query(ctx,
		`SELECT id, event_id, title, description, update_date, relevance_score, key_insights,
		summary, sources, created_at
		FROM event_updates WHERE event_id = ? ORDER BY update_date DESC, id DESC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	updates := []EventUpdate{}
	for rows.Next() {
		var u EventUpdate
		var insights, summary, sources sql.NullString
		var createdAt string
		if err := rows.Scan(&u.ID, &u.EventID, &u.Title, &u.Description, &u.UpdateDate,
			&u.RelevanceScore, &insights, &summary, &sources, &createdAt); err != nil {
			return nil, err
		}
		u.Summary = summary.String
		u.CreatedAt = parseTime(createdAt)
		u.KeyInsights = decodeStrings(insights)
		u.Sources = decodeStrings(sources)
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

func decodeStrings(ns sql.NullString) []string {
	out := []string{}
	if ns.Valid && ns.String != "" {
		_ = json.Unmarshal([]byte(ns.String), &out)
	}
	return out
}
