package server

import (
	"fmt"
	"net/http"

	"github.com/TobiSchelling/Deadline/internal/database"
	"github.com/TobiSchelling/Deadline/internal/pipeline"
)

type analysisSummary struct {
	Headline             string `json:"headline"`
	Location             string `json:"location"`
	TimelineEntries      int    `json:"timeline_entries"`
	AccusedIndividuals   int    `json:"accused_individuals"`
	AccusedOrganizations int    `json:"accused_organizations"`
	VictimIndividuals    int    `json:"victim_individuals"`
	VictimGroups         int    `json:"victim_groups"`
	KeyPoints            int    `json:"key_points"`
}

type searchDetailsResponse struct {
	Success                bool                     `json:"success"`
	RunID                  string                   `json:"run_id"`
	Message                string                   `json:"message"`
	EventID                int64                    `json:"event_id"`
	EventTitle             string                   `json:"event_title"`
	QueryUsed              string                   `json:"query_used"`
	Created                bool                     `json:"created"`
	TotalSearchResults     int                      `json:"total_search_results"`
	ArticlesScraped        int                      `json:"articles_scraped"`
	ArticlesInContext      int                      `json:"articles_in_context"`
	ImagesFound            int                      `json:"images_found"`
	SourcesAnalyzed        int                      `json:"sources_analyzed"`
	ChronologicalBreakdown map[string]int           `json:"chronological_breakdown"`
	Windows                []pipeline.WindowSummary `json:"windows"`
	AnalysisSummary        analysisSummary          `json:"analysis_summary"`
	ElapsedMS              int64                    `json:"elapsed_ms"`
}

type searchUpdatesResponse struct {
	Success         bool                   `json:"success"`
	RunID           string                 `json:"run_id"`
	Message         string                 `json:"message"`
	EventID         int64                  `json:"event_id"`
	HasNewUpdates   bool                   `json:"has_new_updates"`
	UpdatesInserted int                    `json:"updates_inserted"`
	Updates         []database.EventUpdate `json:"updates"`
	LastUpdated     string                 `json:"last_updated"`
	NewLastUpdated  string                 `json:"new_last_updated,omitempty"`
	DroppedUpdates  int                    `json:"dropped_updates"`
	Debug           pipeline.UpdateDebug   `json:"debug"`
}

func (s *Server) handleSearchDetails(w http.ResponseWriter, r *http.Request) {
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

	res, err := s.analyzer.Analyze(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, runID(res))
		return
	}
	writeJSON(w, http.StatusOK, detailsSummary(res))
}

func (s *Server) handleSearchUpdates(w http.ResponseWriter, r *http.Request) {
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

	res, err := s.updater.Run(r.Context(), id)
	if err != nil {
		var run string
		if res != nil {
			run = res.RunID
		}
		s.writeError(w, r, err, run)
		return
	}
	writeJSON(w, http.StatusOK, searchUpdatesResponse{
		Success:         true,
		RunID:           res.RunID,
		Message:         res.Message,
		EventID:         res.EventID,
		HasNewUpdates:   len(res.Updates) > 0,
		UpdatesInserted: len(res.Updates),
		Updates:         res.Updates,
		LastUpdated:     res.LastUpdated,
		NewLastUpdated:  res.NewWatermark,
		DroppedUpdates:  res.Dropped,
		Debug:           res.Debug,
	})
}

func detailsSummary(res *pipeline.DetailsResult) searchDetailsResponse {
	verb := "updated"
	if res.Created {
		verb = "created"
	}
	resp := searchDetailsResponse{
		Success:                true,
		RunID:                  res.RunID,
		Message:                fmt.Sprintf("Event details %s successfully", verb),
		EventID:                res.EventID,
		EventTitle:             res.EventTitle,
		QueryUsed:              res.Query,
		Created:                res.Created,
		TotalSearchResults:     res.SearchResults,
		ArticlesScraped:        res.ArticlesScraped,
		ArticlesInContext:      res.ArticlesPacked,
		ImagesFound:            res.ImagesCount,
		SourcesAnalyzed:        res.SourcesCount,
		ChronologicalBreakdown: res.ArticlesByPeriod,
		Windows:                res.Windows,
		ElapsedMS:              res.Elapsed.Milliseconds(),
	}
	if d := res.Details; d != nil {
		resp.AnalysisSummary = analysisSummary{
			Headline:             d.Headline,
			Location:             d.Location,
			TimelineEntries:      len(d.Timeline),
			AccusedIndividuals:   len(d.Accused.Individuals),
			AccusedOrganizations: len(d.Accused.Organizations),
			VictimIndividuals:    len(d.Victims.Individuals),
			VictimGroups:         len(d.Victims.Groups),
			KeyPoints:            len(d.Details.KeyPoints),
		}
	}
	return resp
}

func runID(res *pipeline.DetailsResult) string {
	if res == nil {
		return ""
	}
	return res.RunID
}
