package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/Deadline/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	w.Write([]byte("\n"))
}

// writeError maps err to its status. Unclassified errors are 500s.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, runID string) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	resp := errorResponse{Error: apperr.Message(err), RunID: runID}
	if details := apperr.Details(err); details != resp.Error {
		resp.Details = details
	}
	if kind == "" {
		resp.Error = "Internal server error"
		resp.Details = err.Error()
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

// requestParams merges the query string with a form or JSON body. Query
// values win when both are present.
func requestParams(r *http.Request) (url.Values, error) {
	params := r.URL.Query()
	if r.Method != http.MethodPost || r.Body == nil {
		return params, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		dec.UseNumber()
		var body map[string]any
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, apperr.Wrap(apperr.Validation, err, "invalid JSON body")
		}
		for k, v := range body {
			if params.Get(k) == "" {
				params.Set(k, paramString(v))
			}
		}
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, apperr.Wrap(apperr.Validation, err, "invalid form body")
		}
		for k := range r.PostForm {
			if params.Get(k) == "" {
				params.Set(k, r.PostForm.Get(k))
			}
		}
	}
	return params, nil
}

func paramString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// authorize checks the shared secret from the X-API-Key header or the
// api_key parameter.
func (s *Server) authorize(r *http.Request, params url.Values) error {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = params.Get("api_key")
	}
	if s.apiKey == "" || key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
		return apperr.New(apperr.Auth, "Invalid or missing API key")
	}
	return nil
}

// protected parses parameters and checks the API key.
func (s *Server) protected(r *http.Request) (url.Values, error) {
	params, err := requestParams(r)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(r, params); err != nil {
		return nil, err
	}
	return params, nil
}

func eventIDParam(params url.Values) (int64, error) {
	raw := params.Get("event_id")
	if raw == "" {
		return 0, apperr.New(apperr.Validation, "event_id parameter is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.Validation, "event_id must be a positive integer")
	}
	return id, nil
}

// fromCache writes a cached response for key and reports whether it did.
func (s *Server) fromCache(w http.ResponseWriter, r *http.Request, route, key string) bool {
	if s.cache == nil {
		return false
	}
	data, ok, err := s.cache.Get(r.Context(), key)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	s.metrics.CacheLookup(route, ok)
	if !ok {
		return false
	}
	w.Header().Set("X-Cache", "HIT")
	writeRaw(w, http.StatusOK, data)
	return true
}

// writeCached writes v and stores it under key with tags.
func (s *Server) writeCached(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, tags []string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("encoding response: %w", err), "")
		return
	}
	if s.cache != nil {
		if err := s.cache.Set(r.Context(), key, data, ttl, tags...); err != nil {
			s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	w.Header().Set("X-Cache", "MISS")
	writeRaw(w, http.StatusOK, data)
}
