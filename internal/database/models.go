package database

import "time"

// Event is a tracked story. Events are created outside the pipelines;
// analysis only moves LastUpdated.
type Event struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Query        string     `json:"query"`
	Status       string     `json:"status"`
	LastUpdated  *time.Time `json:"last_updated"`
	IncidentDate *string    `json:"incident_date"`
	Summary      *string    `json:"summary"`
	Tags         []string   `json:"tags"`
	ImageURL     *string    `json:"image_url"`
	CreatedAt    time.Time  `json:"created_at"`
}

// KeyValue is a labelled fact.
type KeyValue struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Overview is the narrative summary of an event plus its key points.
type Overview struct {
	Overview  string     `json:"overview"`
	KeyPoints []KeyValue `json:"keyPoints"`
}

// Party is an accused or victim individual, organization, or group.
type Party struct {
	Name    string     `json:"name,omitempty"`
	Summary string     `json:"summary"`
	Details []KeyValue `json:"details"`
}

type Accused struct {
	Individuals   []Party `json:"individuals"`
	Organizations []Party `json:"organizations"`
}

type Victims struct {
	Individuals []Party `json:"individuals"`
	Groups      []Party `json:"groups"`
}

type TimelineEvent struct {
	Time         string `json:"time"`
	Description  string `json:"description"`
	Participants string `json:"participants"`
	Evidence     string `json:"evidence"`
}

// TimelineEntry groups the events of one date.
type TimelineEntry struct {
	Date    string          `json:"date"`
	Context string          `json:"context"`
	Events  []TimelineEvent `json:"events"`
}

// EventDetails is the enriched record for one event. There is at most one
// per event.
type EventDetails struct {
	EventID   int64           `json:"event_id"`
	Slug      string          `json:"slug,omitempty"`
	Headline  string          `json:"headline"`
	Location  string          `json:"location"`
	Details   Overview        `json:"details"`
	Accused   Accused         `json:"accused"`
	Victims   Victims         `json:"victims"`
	Timeline  []TimelineEntry `json:"timeline"`
	Sources   []string        `json:"sources"`
	Images    []string        `json:"images"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EventUpdate is one dated development found by a delta run.
type EventUpdate struct {
	ID             int64     `json:"id"`
	EventID        int64     `json:"event_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	UpdateDate     string    `json:"update_date"`
	RelevanceScore float64   `json:"relevance_score"`
	KeyInsights    []string  `json:"key_insights"`
	Summary        string    `json:"summary"`
	Sources        []string  `json:"sources"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats holds row counts for status output.
type Stats struct {
	Events            int
	EventsWithDetails int
	EventUpdates      int
	StaleEvents       int
}
