// Package cache stores rendered API responses under invalidation tags.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Tag names shared by the API handlers and revalidation.
const (
	TagEvents = "events"
	TagTitles = "titles"
)

// EventTag, DetailsTag and UpdatesTag name the per-event tags.
func EventTag(id int64) string   { return "event-" + strconv.FormatInt(id, 10) }
func DetailsTag(id int64) string { return "event-details-" + strconv.FormatInt(id, 10) }
func UpdatesTag(id int64) string { return "event-updates-" + strconv.FormatInt(id, 10) }

// EventTags returns every tag touched when an event changes.
func EventTags(id int64) []string {
	return []string{TagEvents, EventTag(id), DetailsTag(id), UpdatesTag(id)}
}

// Cache is a tagged key/value store for response bodies.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	// Invalidate drops every entry carrying any of tags and returns how
	// many entries were removed.
	Invalidate(ctx context.Context, tags ...string) (int, error)
	InvalidateAll(ctx context.Context) error
	Close() error
}

type memEntry struct {
	value   []byte
	expires time.Time
	tags    []string
}

// Memory is an in-process Cache used when no Redis is configured.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	tags    map[string]map[string]struct{}
	now     func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memEntry),
		tags:    make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.removeLocked(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(key)
	e := memEntry{value: value, tags: tags}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	for _, t := range tags {
		if m.tags[t] == nil {
			m.tags[t] = make(map[string]struct{})
		}
		m.tags[t][key] = struct{}{}
	}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, tags ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, t := range tags {
		for key := range m.tags[t] {
			if _, ok := m.entries[key]; ok {
				m.removeLocked(key)
				removed++
			}
		}
		delete(m.tags, t)
	}
	return removed, nil
}

func (m *Memory) InvalidateAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memEntry)
	m.tags = make(map[string]map[string]struct{})
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) removeLocked(key string) {
	e, ok := m.entries[key]
	if !ok {
		return
	}
	delete(m.entries, key)
	for _, t := range e.tags {
		delete(m.tags[t], key)
	}
}
