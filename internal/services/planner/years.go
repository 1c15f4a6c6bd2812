package planner

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Search providers bias heavily toward pages matching explicit years, and
// planner models trained on older data keep suggesting ones that bury
// current results. Standalone mentions of those years are scrubbed from
// planned queries; a year that opens an explicit range ("2023-2025") is
// intent and stays.

var (
	// A stale year, optionally followed by a range continuation. The
	// continuation group decides whether the match survives.
	staleYearRe = regexp.MustCompile(`\b(202[0-4])(\s*[-–]\s*\d{4})?\b`)
	multiSpace  = regexp.MustCompile(`\s{2,}`)
)

// ScrubStaleYears removes standalone stale-year mentions from a query.
// Years that begin an explicit range are preserved.
func ScrubStaleYears(query string) string {
	out := staleYearRe.ReplaceAllStringFunc(query, func(match string) string {
		groups := staleYearRe.FindStringSubmatch(match)
		if groups[2] != "" {
			// Part of a range; keep intact.
			return match
		}
		return ""
	})

	out = multiSpace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// ReplaceTemporalKeywords resolves relative date words in a query to the
// concrete values they mean at the given time: "today" becomes the date in
// YYYY-MM-DD form, "this year" and "current year" become the year number.
func ReplaceTemporalKeywords(query string, now time.Time) string {
	date := now.Format("2006-01-02")
	year := strconv.Itoa(now.Year())
	out := strings.ReplaceAll(query, "today", date)
	out = strings.ReplaceAll(out, "Today", date)
	out = strings.ReplaceAll(out, "this year", year)
	out = strings.ReplaceAll(out, "current year", year)
	return out
}

// ScrubQueryList applies ScrubStaleYears to every query, dropping any that
// scrub down to empty.
func ScrubQueryList(queries []string) []string {
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if scrubbed := ScrubStaleYears(q); scrubbed != "" {
			out = append(out, scrubbed)
		}
	}
	return out
}
