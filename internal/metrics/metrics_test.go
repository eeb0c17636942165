package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorExposesMetrics(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := c.InstrumentHandler("/api/get/events", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/get/events?x=1", nil))

	c.ObserveStage("details", "search", 2*time.Second)
	c.RunFinished("details", "success")
	c.Articles(3, 1)
	c.CacheLookup("get_details", true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`deadline_http_requests_total{method="GET",path="/api/get/events",status="418"} 1`,
		`deadline_pipeline_runs_total{outcome="success",pipeline="details"} 1`,
		`deadline_pipeline_articles_total{result="scraped"} 3`,
		`deadline_cache_lookups_total{outcome="hit",route="get_details"} 1`,
		`deadline_pipeline_stage_duration_seconds_count{pipeline="details",stage="search"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveStage("details", "search", time.Second)
	c.RunFinished("details", "success")
	c.Articles(1, 1)
	c.CacheLookup("x", false)

	called := false
	h := c.InstrumentHandler("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !called {
		t.Error("nil collector should pass requests through")
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
