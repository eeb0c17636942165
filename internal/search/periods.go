package search

import (
	"context"

	"go.uber.org/zap"
)

// PeriodSearcher runs one date-restricted query per window and keeps the
// results that pass the filter and were not seen in an earlier window.
type PeriodSearcher struct {
	provider  Provider
	filter    *Filter
	logger    *zap.Logger
	perWindow int
	priority  int
}

// NewPeriodSearcher creates a searcher requesting perWindow results and
// keeping up to priority of them for scraping.
func NewPeriodSearcher(provider Provider, filter *Filter, perWindow, priority int, logger *zap.Logger) *PeriodSearcher {
	if perWindow <= 0 {
		perWindow = 10
	}
	if priority <= 0 {
		priority = 8
	}
	return &PeriodSearcher{
		provider:  provider,
		filter:    filter,
		logger:    logger,
		perWindow: perWindow,
		priority:  priority,
	}
}

// Session carries deduplication state across the windows of one run.
type Session struct {
	seen    map[string]struct{}
	results []Result
}

// NewSession starts an empty run.
func NewSession() *Session {
	return &Session{seen: make(map[string]struct{})}
}

// Results returns every accepted result in acceptance order.
func (s *Session) Results() []Result {
	return s.results
}

// WindowResult is the outcome of searching one window.
type WindowResult struct {
	Window   Window
	Found    int
	Accepted []Result
	// Priority is the prefix of Accepted selected for scraping.
	Priority []Result
	Rejected map[string]int
	Err      error
}

// SearchWindow queries a single window. A provider failure yields an
// empty result with Err set; it never affects other windows.
func (s *PeriodSearcher) SearchWindow(ctx context.Context, sess *Session, terms string, w Window) WindowResult {
	wr := WindowResult{Window: w, Rejected: make(map[string]int)}

	results, err := s.provider.Search(ctx, Query{
		Terms:      terms,
		Start:      w.Start,
		End:        w.End,
		Num:        s.perWindow,
		SortByDate: true,
	})
	if err != nil {
		s.logger.Warn("window search failed",
			zap.String("window", w.Label), zap.String("provider", s.provider.Name()), zap.Error(err))
		wr.Err = err
		return wr
	}
	wr.Found = len(results)

	for _, r := range results {
		if _, dup := sess.seen[r.Link]; dup {
			wr.Rejected["duplicate"]++
			continue
		}
		if ok, reason := s.filter.Allow(r); !ok {
			wr.Rejected[reason]++
			continue
		}
		sess.seen[r.Link] = struct{}{}
		wr.Accepted = append(wr.Accepted, r)
	}
	sess.results = append(sess.results, wr.Accepted...)

	wr.Priority = wr.Accepted
	if len(wr.Priority) > s.priority {
		wr.Priority = wr.Priority[:s.priority]
	}

	s.logger.Debug("window searched",
		zap.String("window", w.Label),
		zap.Int("found", wr.Found),
		zap.Int("accepted", len(wr.Accepted)),
		zap.Int("priority", len(wr.Priority)),
	)
	return wr
}
