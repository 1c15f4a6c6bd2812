package models

// ResearchPlan is the structured output of the query planner. It is the
// typed facade over the planner LLM's JSON envelope; every downstream
// access goes through these fields rather than the raw response.
type ResearchPlan struct {
	WebSearchNeeded      bool     `json:"web_search_needed"`
	SearchQueries        []string `json:"search_queries"`
	DataExtractionNeeded bool     `json:"data_extraction_needed"`
	DataTypes            []string `json:"data_types"`
}

// FallbackPlan returns the ultimate-fallback plan used when the planner
// response cannot be recovered: search the user's own words verbatim.
func FallbackPlan(userQuery string) *ResearchPlan {
	return &ResearchPlan{
		WebSearchNeeded:      true,
		SearchQueries:        []string{userQuery},
		DataExtractionNeeded: false,
		DataTypes:            []string{},
	}
}

// NeedsSearch reports whether the searching stages should run at all.
// A plan that wants search but produced no queries is treated as no-search.
func (p *ResearchPlan) NeedsSearch() bool {
	return p.WebSearchNeeded && len(p.SearchQueries) > 0
}

// CapQueries bounds the query list to the configured maximum, preserving order.
func (p *ResearchPlan) CapQueries(max int) {
	if max > 0 && len(p.SearchQueries) > max {
		p.SearchQueries = p.SearchQueries[:max]
	}
}
