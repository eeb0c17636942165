package search

import (
	"fmt"
	"time"
)

// Window is one historical date range searched independently.
type Window struct {
	Label string
	Span  string
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return fmt.Sprintf("%s (%s)", w.Label, w.Span)
}

// PlanWindows returns four contiguous windows covering the two years
// before now, oldest first.
func PlanWindows(now time.Time) []Window {
	twoYears := now.AddDate(-2, 0, 0)
	oneYear := now.AddDate(-1, 0, 0)
	sixMonths := now.AddDate(0, -6, 0)
	threeMonths := now.AddDate(0, -3, 0)

	return []Window{
		{Label: "Oldest Period", Span: "2-1 years ago", Start: twoYears, End: oneYear},
		{Label: "Early Period", Span: "1 year - 6 months ago", Start: oneYear, End: sixMonths},
		{Label: "Middle Period", Span: "6-3 months ago", Start: sixMonths, End: threeMonths},
		{Label: "Recent Period", Span: "Last 3 months", Start: threeMonths, End: now},
	}
}
