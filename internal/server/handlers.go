package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/Deadline/internal/apperr"
	"github.com/TobiSchelling/Deadline/internal/cache"
	"github.com/TobiSchelling/Deadline/internal/database"
)

type eventsResponse struct {
	Events []database.Event `json:"events"`
}

type detailsData struct {
	*database.EventDetails
	OverviewHTML string `json:"overview_html,omitempty"`
}

type detailsResponse struct {
	Success bool        `json:"success"`
	Data    detailsData `json:"data"`
}

type updatesResponse struct {
	Success bool                   `json:"success"`
	Data    []database.EventUpdate `json:"data"`
	Count   int                    `json:"count"`
}

type revalidateResponse struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	Revalidated bool      `json:"revalidated"`
	Tags        []string  `json:"tags,omitempty"`
	Removed     int       `json:"removed"`
	Timestamp   time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	const key = "events"
	if s.fromCache(w, r, "get_events", key) {
		return
	}

	events, err := s.db.ListEvents(r.Context())
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.Upstream, err, "Failed to fetch events"), "")
		return
	}
	if events == nil {
		events = []database.Event{}
	}
	s.writeCached(w, r, key, s.ttl, []string{cache.TagEvents}, eventsResponse{Events: events})
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	params, err := s.protected(r)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	id, err := eventIDParam(params)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	html := params.Get("format") == "html"

	key := "details:" + strconv.FormatInt(id, 10)
	if html {
		key += ":html"
	}
	if s.fromCache(w, r, "get_details", key) {
		return
	}

	d, err := s.db.GetEventDetails(r.Context(), id)
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.Upstream, err, "Failed to fetch event details"), "")
		return
	}
	if d == nil {
		s.writeError(w, r, apperr.New(apperr.NotFound, "Event not found"), "")
		return
	}

	data := detailsData{EventDetails: d}
	if html {
		data.OverviewHTML = renderOverview(d.Details.Overview)
	}
	s.writeCached(w, r, key, s.ttl, []string{cache.EventTag(id), cache.DetailsTag(id)},
		detailsResponse{Success: true, Data: data})
}

// handleUpdates never fails once the request is authorized: lookup and
// store errors degrade to an empty list.
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	params, err := s.protected(r)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}

	var id int64
	switch {
	case params.Get("event_id") != "":
		if id, err = eventIDParam(params); err != nil {
			s.writeError(w, r, err, "")
			return
		}
	case params.Get("slug") != "":
		slug := params.Get("slug")
		id, err = s.db.GetEventIDBySlug(r.Context(), slug)
		if err != nil || id == 0 {
			s.logger.Info("updates requested for unknown slug", zap.String("slug", slug), zap.Error(err))
			writeJSON(w, http.StatusOK, emptyUpdates())
			return
		}
	default:
		s.writeError(w, r, apperr.New(apperr.Validation, "Either event_id or slug parameter is required"), "")
		return
	}

	key := "updates:" + strconv.FormatInt(id, 10)
	if s.fromCache(w, r, "get_updates", key) {
		return
	}

	updates, err := s.db.GetEventUpdates(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to fetch updates", zap.Int64("event_id", id), zap.Error(err))
		writeJSON(w, http.StatusOK, emptyUpdates())
		return
	}
	s.writeCached(w, r, key, s.ttl, []string{cache.EventTag(id), cache.UpdatesTag(id)},
		updatesResponse{Success: true, Data: updates, Count: len(updates)})
}

func emptyUpdates() updatesResponse {
	return updatesResponse{Success: true, Data: []database.EventUpdate{}}
}

func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	params, err := s.protected(r)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}

	resp := revalidateResponse{Success: true, Revalidated: true, Timestamp: time.Now().UTC()}
	if all, _ := strconv.ParseBool(params.Get("revalidate_all")); all {
		if s.cache != nil {
			if err := s.cache.InvalidateAll(r.Context()); err != nil {
				s.writeError(w, r, apperr.Wrap(apperr.Upstream, err, "Cache revalidation failed"), "")
				return
			}
		}
		resp.Message = "Cache revalidated for all events"
		s.logger.Info("cache revalidated", zap.Bool("all", true))
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if params.Get("event_id") == "" {
		s.writeError(w, r, apperr.New(apperr.Validation, "Missing event_id"), "")
		return
	}
	id, err := eventIDParam(params)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}

	resp.Tags = cache.EventTags(id)
	if s.cache != nil {
		if resp.Removed, err = s.cache.Invalidate(r.Context(), resp.Tags...); err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.Upstream, err, "Cache revalidation failed"), "")
			return
		}
	}
	resp.Message = fmt.Sprintf("Cache revalidated for event %d", id)
	s.logger.Info("cache revalidated", zap.Int64("event_id", id), zap.Int("removed", resp.Removed))
	writeJSON(w, http.StatusOK, resp)
}
