package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const eventColumns = `id, title, query, status, last_updated, incident_date, summary, tags, image_url, created_at`

// NewEvent holds the fields needed to create an event.
type NewEvent struct {
	Title        string
	Query        string
	Status       string
	IncidentDate *string
	Summary      *string
	Tags         []string
	ImageURL     *string
}

// InsertEvent creates an event and returns its ID.
func (db *DB) InsertEvent(ctx context.Context, e NewEvent) (int64, error) {
	if e.Query == "" {
		e.Query = e.Title
	}
	tags, err := json.Marshal(nonNilStrings(e.Tags))
	if err != nil {
		return 0, fmt.Errorf("marshaling tags: %w", err)
	}

	var id int64
	err = db.queryRow(ctx,
		`INSERT INTO events (title, query, status, incident_date, summary, tags, image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		e.Title, e.Query, e.Status, e.IncidentDate, e.Summary, string(tags), e.ImageURL, formatTime(db.now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}
	return id, nil
}

// GetEvent returns an event by ID, or nil if it does not exist.
func (db *DB) GetEvent(ctx context.Context, id int64) (*Event, error) {
	row := db.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListEvents returns all events, most recently refreshed first.
func (db *DB) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := db.query(ctx,
		`SELECT `+eventColumns+` FROM events
		ORDER BY last_updated IS NULL, last_updated DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// SetLastUpdated moves an event's freshness watermark.
func (db *DB) SetLastUpdated(ctx context.Context, id int64, t time.Time) error {
	res, err := db.exec(ctx, "UPDATE events SET last_updated = ? WHERE id = ?", formatTime(t), id)
	if err != nil {
		return fmt.Errorf("updating last_updated: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %d not found", id)
	}
	return nil
}

// GetStats returns row counts. An event is stale when it has never been
// analyzed or was last refreshed more than staleAfter ago.
func (db *DB) GetStats(ctx context.Context, staleAfter time.Duration) (*Stats, error) {
	s := &Stats{}
	counts := []struct {
		query string
		args  []any
		dest  *int
	}{
		{"SELECT COUNT(*) FROM events", nil, &s.Events},
		{"SELECT COUNT(*) FROM event_details", nil, &s.EventsWithDetails},
		{"SELECT COUNT(*) FROM event_updates", nil, &s.EventUpdates},
		{
			"SELECT COUNT(*) FROM events WHERE last_updated IS NULL OR last_updated < ?",
			[]any{formatTime(db.now().Add(-staleAfter))},
			&s.StaleEvents,
		},
	}
	for _, c := range counts {
		if err := db.queryRow(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting: %w", err)
		}
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*Event, error) {
	var e Event
	var lastUpdated, incidentDate, summary, tags, imageURL sql.NullString
	var createdAt string
	if err := row.Scan(&e.ID, &e.Title, &e.Query, &e.Status, &lastUpdated, &incidentDate,
		&summary, &tags, &imageURL, &createdAt); err != nil {
		return nil, err
	}
	e.LastUpdated = parseNullTime(lastUpdated)
	e.IncidentDate = nullString(incidentDate)
	e.Summary = nullString(summary)
	e.ImageURL = nullString(imageURL)
	e.CreatedAt = parseTime(createdAt)
	e.Tags = []string{}
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &e.Tags)
	}
	return &e, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
