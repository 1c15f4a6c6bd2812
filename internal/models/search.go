package models

import "sort"

// SearchHit is one ranked result from the web-search provider.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResults maps each executed search query to its hits. Iteration
// order matters for prompt construction, so the executed query order is
// carried alongside the map by the pipeline.
type SearchResults map[string][]SearchHit

// OrderedQueries returns the queries of the map in a stable order: the
// executed order first, then any remaining keys sorted. Prompt builders
// iterate this instead of the map.
func (r SearchResults) OrderedQueries(executed []string) []string {
	out := make([]string, 0, len(r))
	seen := make(map[string]bool, len(r))
	for _, q := range executed {
		if _, ok := r[q]; ok && !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	var rest []string
	for q := range r {
		if !seen[q] {
			rest = append(rest, q)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
