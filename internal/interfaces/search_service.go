package interfaces

import (
	"context"

	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// SearchService runs one web search query. Failures are absorbed: a
// provider error or empty response yields an empty slice, never an error,
// so one bad query cannot sink a multi-query fan-out.
type SearchService interface {
	Search(ctx context.Context, query string, numResults int) []models.SearchHit
}
