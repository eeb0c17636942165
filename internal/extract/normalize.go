package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TobiSchelling/Deadline/internal/database"
)

// Normalize maps a decoded LLM reply onto the canonical details shape.
// Every field has a default, so missing or mistyped sections become empty
// values rather than errors. Sources and Images are left empty for the
// caller to fill.
func Normalize(raw map[string]any) database.EventDetails {
	d := database.EventDetails{
		Headline: str(raw["headline"]),
		Location: str(raw["location"]),
		Details:  normalizeOverview(raw["details"]),
		Accused:  normalizeAccused(raw["accused"]),
		Victims:  normalizeVictims(raw["victims"]),
		Timeline: normalizeTimeline(raw["timeline"]),
		Sources:  []string{},
		Images:   []string{},
	}
	// Some replies nest the headline inside details.
	if d.Headline == "" {
		if m, ok := raw["details"].(map[string]any); ok {
			d.Headline = str(m["headline"])
		}
	}
	return d
}

func normalizeOverview(v any) database.Overview {
	o := database.Overview{KeyPoints: []database.KeyValue{}}
	switch t := v.(type) {
	case map[string]any:
		o.Overview = str(t["overview"])
		o.KeyPoints = keyValues(t["keyPoints"])
		if len(o.KeyPoints) == 0 {
			o.KeyPoints = keyValues(t["key_points"])
		}
	case string:
		o.Overview = strings.TrimSpace(t)
	}
	return o
}

func normalizeAccused(v any) database.Accused {
	a := database.Accused{Individuals: []database.Party{}, Organizations: []database.Party{}}
	switch t := v.(type) {
	case map[string]any:
		a.Individuals = parties(t["individuals"])
		a.Organizations = parties(t["organizations"])
	case []any:
		a.Individuals = parties(t)
	}
	return a
}

func normalizeVictims(v any) database.Victims {
	vs := database.Victims{Individuals: []database.Party{}, Groups: []database.Party{}}
	switch t := v.(type) {
	case map[string]any:
		vs.Individuals = parties(t["individuals"])
		vs.Groups = parties(t["groups"])
	case []any:
		vs.Individuals = parties(t)
	}
	return vs
}

func parties(v any) []database.Party {
	out := []database.Party{}
	items, _ := v.([]any)
	for _, item := range items {
		switch t := item.(type) {
		case map[string]any:
			out = append(out, database.Party{
				Name:    str(t["name"]),
				Summary: str(t["summary"]),
				Details: keyValues(t["details"]),
			})
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, database.Party{Summary: s, Details: []database.KeyValue{}})
			}
		}
	}
	return out
}

func keyValues(v any) []database.KeyValue {
	out := []database.KeyValue{}
	items, _ := v.([]any)
	for _, item := range items {
		switch t := item.(type) {
		case map[string]any:
			kv := database.KeyValue{Label: str(t["label"]), Value: str(t["value"])}
			if kv.Label != "" || kv.Value != "" {
				out = append(out, kv)
			}
		case nil:
		default:
			if s := str(t); s != "" {
				out = append(out, database.KeyValue{Value: s})
			}
		}
	}
	return out
}

func normalizeTimeline(v any) []database.TimelineEntry {
	out := []database.TimelineEntry{}
	items, _ := v.([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := database.TimelineEntry{
			Date:    str(m["date"]),
			Context: str(m["context"]),
			Events:  timelineEvents(m["events"]),
		}
		if entry.Context == "" {
			entry.Context = str(m["summary"])
		}
		out = append(out, entry)
	}
	return out
}

func timelineEvents(v any) []database.TimelineEvent {
	out := []database.TimelineEvent{}
	items, _ := v.([]any)
	for _, item := range items {
		switch t := item.(type) {
		case map[string]any:
			out = append(out, database.TimelineEvent{
				Time:         str(t["time"]),
				Description:  str(t["description"]),
				Participants: str(t["participants"]),
				Evidence:     str(t["evidence"]),
			})
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, database.TimelineEvent{Description: s})
			}
		}
	}
	return out
}

// str renders a scalar as text. Lists are joined with ", "; nil is "".
func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s := str(p); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

func strs(v any) []string {
	out := []string{}
	items, _ := v.([]any)
	for _, item := range items {
		if s := str(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
