package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// Sample caps keep the narrative prompt proportionate: the analysis reads
// over the evidence, it does not re-ingest it.
const (
	maxScrapeSamples    = 5
	maxSampleChars      = 1000
	maxDataSampleChars  = 500
	fallbackAnalysisMsg = "The research completed, but a narrative summary could not be produced for this run."
)

// Service writes the analytical narrative that accompanies a finished
// artifact: what was found, how the sources agree, and what remains open.
// Analysis is best-effort; a failed model call yields a fixed placeholder.
type Service struct {
	llm       interfaces.LLMService
	logger    arbor.ILogger
	converter *md.Converter
}

// NewService creates a new analysis service
func NewService(llm interfaces.LLMService, logger arbor.ILogger) *Service {
	return &Service{
		llm:       llm,
		logger:    logger,
		converter: md.NewConverter("", true, nil),
	}
}

// Summarize produces the analysis narrative for a completed run.
func (s *Service) Summarize(ctx context.Context, userQuery string, artifact *models.Artifact, scrapes []models.ScrapeResult, data models.DataBag) string {
	prompt := s.buildPrompt(userQuery, artifact, scrapes, data)

	startTime := time.Now()
	response, err := s.llm.Chat(ctx, []interfaces.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil || strings.TrimSpace(response) == "" {
		s.logger.Warn().
			Err(err).
			Msg("Analysis narrative failed, using placeholder")
		return fallbackAnalysisMsg
	}

	s.logger.Debug().
		Int("length", len(response)).
		Dur("duration", time.Since(startTime)).
		Msg("Analysis narrative produced")

	return strings.TrimSpace(response)
}

func (s *Service) buildPrompt(userQuery string, artifact *models.Artifact, scrapes []models.ScrapeResult, data models.DataBag) string {
	var b strings.Builder

	fmt.Fprintf(&b, "The user asked: %s\n", userQuery)

	if headings := s.artifactHeadings(artifact); len(headings) > 0 {
		fmt.Fprintf(&b, "\nThe delivered report covers these sections:\n")
		for _, h := range headings {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}

	samples := topScrapes(scrapes, maxScrapeSamples)
	if len(samples) > 0 {
		b.WriteString("\nKey source excerpts:\n")
		for _, scrape := range samples {
			chunk := scrape.BestChunk
			if len(chunk) > maxSampleChars {
				chunk = chunk[:maxSampleChars]
			}
			fmt.Fprintf(&b, "\nFrom %s (relevance %.2f):\n%s\n", scrape.URL, scrape.Score, chunk)
		}
	}

	if len(data) > 0 {
		sample := string(data.JSON())
		if len(sample) > maxDataSampleChars {
			sample = sample[:maxDataSampleChars]
		}
		fmt.Fprintf(&b, "\nExtracted data (sample): %s\n", sample)
	}

	b.WriteString(`
Write an analytical summary of this research in at most four paragraphs of plain prose:
1. What the research found, directly answering the user's question.
2. How strongly the sources support those findings, noting agreement or conflict.
3. How the delivered report is organized and why that structure serves the question.
4. What the research could not establish and what a follow-up should examine.
Do not quote statistics, figures, or other numeric values; the report itself carries those.
Respond with only the prose paragraphs, no headings and no lists.`)

	return b.String()
}

// artifactHeadings lists the section headings of the delivered artifact.
// HTML artifacts are converted to Markdown first so one heading scan serves
// both kinds.
func (s *Service) artifactHeadings(artifact *models.Artifact) []string {
	if artifact == nil || artifact.Body == "" {
		return nil
	}

	body := artifact.Body
	if artifact.Kind == models.ArtifactHTML {
		converted, err := s.converter.ConvertString(body)
		if err != nil {
			s.logger.Debug().
				Err(err).
				Msg("HTML artifact conversion failed, skipping heading extraction")
			return nil
		}
		body = converted
	}

	return ExtractHeadings(body)
}

// topScrapes returns the n most relevant successful scrapes by score.
func topScrapes(scrapes []models.ScrapeResult, n int) []models.ScrapeResult {
	usable := models.SuccessfulScrapes(scrapes)
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Score > usable[j].Score
	})
	if len(usable) > n {
		usable = usable[:n]
	}
	return usable
}
