package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// UpsertEventDetails stores the details record for d.EventID, replacing
// every field of an existing record. created_at and slug survive updates.
// It reports whether a new row was inserted.
func (db *DB) UpsertEventDetails(ctx context.Context, d *EventDetails) (bool, error) {
	cols, err := marshalDetailColumns(d)
	if err != nil {
		return false, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	now := db.now()
	var createdAt string
	var slug sql.NullString
	err = tx.QueryRowContext(ctx,
		db.dialect.rebind("SELECT created_at, slug FROM event_details WHERE event_id = ?"), d.EventID,
	).Scan(&createdAt, &slug)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		d.Slug = Slugify(d.Headline, d.EventID)
		_, err = tx.ExecContext(ctx, db.dialect.rebind(
			`INSERT INTO event_details (event_id, slug, headline, location, details, accused, victims,
			timeline, sources, images, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			d.EventID, d.Slug, d.Headline, d.Location, cols.details, cols.accused, cols.victims,
			cols.timeline, cols.sources, cols.images, formatTime(now), formatTime(now),
		)
		if err != nil {
			return false, fmt.Errorf("inserting event details: %w", err)
		}
		d.CreatedAt = parseTime(formatTime(now))
		d.UpdatedAt = d.CreatedAt
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit upsert: %w", err)
		}
		return true, nil

	case err != nil:
		return false, fmt.Errorf("checking event details: %w", err)
	}

	d.Slug = slug.String
	if d.Slug == "" {
		d.Slug = Slugify(d.Headline, d.EventID)
	}
	_, err = tx.ExecContext(ctx, db.dialect.rebind(
		`UPDATE event_details SET slug = ?, headline = ?, location = ?, details = ?, accused = ?,
		victims = ?, timeline = ?, sources = ?, images = ?, updated_at = ?
		WHERE event_id = ?`),
		d.Slug, d.Headline, d.Location, cols.details, cols.accused, cols.victims,
		cols.timeline, cols.sources, cols.images, formatTime(now), d.EventID,
	)
	if err != nil {
		return false, fmt.Errorf("updating event details: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert: %w", err)
	}
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(formatTime(now))
	return false, nil
}

// GetEventDetails returns the details for an event, or nil if none exist.
func (db *DB) GetEventDetails(ctx context.Context, eventID int64) (*EventDetails, error) {
	var d EventDetails
	var slug sql.NullString
	var details, accused, victims, timeline, sources, images, createdAt, updatedAt string
	err := db.queryRow(ctx,
		`SELECT event_id, slug, headline, location, details, accused, victims, timeline, sources,
		images, created_at, updated_at FROM event_details WHERE event_id = ?`, eventID,
	).Scan(&d.EventID, &slug, &d.Headline, &d.Location, &details, &accused, &victims, &timeline,
		&sources, &images, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading event details: %w", err)
	}

	d.Slug = slug.String
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	for _, f := range []struct {
		raw  string
		dest any
	}{
		{details, &d.Details},
		{accused, &d.Accused},
		{victims, &d.Victims},
		{timeline, &d.Timeline},
		{sources, &d.Sources},
		{images, &d.Images},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return nil, fmt.Errorf("decoding event details %d: %w", eventID, err)
		}
	}
	return &d, nil
}

// GetEventIDBySlug resolves a details slug to its event ID. It returns
// 0 when the slug is unknown.
func (db *DB) GetEventIDBySlug(ctx context.Context, slug string) (int64, error) {
	var id int64
	err := db.queryRow(ctx, "SELECT event_id FROM event_details WHERE slug = ?", slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

type detailColumns struct {
	details, accused, victims, timeline, sources, images string
}

func marshalDetailColumns(d *EventDetails) (*detailColumns, error) {
	var c detailColumns
	for _, f := range []struct {
		v    any
		dest *string
	}{
		{d.Details, &c.details},
		{d.Accused, &c.accused},
		{d.Victims, &c.victims},
		{nonNil(d.Timeline), &c.timeline},
		{nonNilStrings(d.Sources), &c.sources},
		{nonNilStrings(d.Images), &c.images},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return nil, fmt.Errorf("marshaling event details: %w", err)
		}
		*f.dest = string(b)
	}
	return &c, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Slugify builds a URL slug from a headline, suffixed with the event ID
// so slugs stay unique.
func Slugify(headline string, eventID int64) string {
	words := strings.FieldsFunc(strings.ToLower(headline), func(r rune) bool {
		return r >= unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	if len(words) > 8 {
		words = words[:8]
	}
	slug := strings.Join(words, "-")
	if slug == "" {
		slug = "event"
	}
	return slug + "-" + strconv.FormatInt(eventID, 10)
}
