package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

type stubLLM struct {
	responses []string
	err       error
	calls     int
	messages  []interfaces.Message
}

func (s *stubLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	s.messages = messages
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.responses[(s.calls-1)%len(s.responses)], nil
}

func (s *stubLLM) HealthCheck(ctx context.Context) error { return nil }
func (s *stubLLM) Close() error                          { return nil }

func newGenerator(llm interfaces.LLMService, mode string) *Service {
	return NewService(llm, &common.GeneratorConfig{Mode: mode, RetryOnInvalid: true}, common.GetLogger())
}

func sampleRequest() *Request {
	return &Request{
		UserQuery: "how are EV sales doing in Europe?",
		SearchResults: models.SearchResults{
			"ev sales europe": {{Title: "Report", URL: "https://example.com", Snippet: "sales up 30%"}},
		},
		Scrapes: []models.ScrapeResult{
			{URL: "https://example.com", BestChunk: "Germany led with 120k units.", Score: 0.9},
		},
		Data: models.DataBag{"sales_growth": []byte(`"30%"`)},
	}
}

func TestGenerateMarkdown(t *testing.T) {
	llm := &stubLLM{responses: []string{"# EV Sales in Europe\n\n## Overview\n\nSales grew 30%."}}
	svc := newGenerator(llm, "markdown")

	artifact, err := svc.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactMarkdown, artifact.Kind)
	assert.True(t, strings.HasPrefix(artifact.Body, "# EV Sales"))
	assert.Equal(t, 1, llm.calls)

	// Evidence reaches the prompt
	last := llm.messages[len(llm.messages)-1].Content
	assert.Contains(t, last, "sales up 30%")
	assert.Contains(t, last, "Germany led with 120k units.")
	assert.Contains(t, last, "sales_growth")
}

func TestGenerateStripsFences(t *testing.T) {
	llm := &stubLLM{responses: []string{"```markdown\n# Report\n\ncontent\n```"}}
	artifact, err := newGenerator(llm, "markdown").Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "# Report\n\ncontent", artifact.Body)
}

func TestGenerateHTMLWrapsFragment(t *testing.T) {
	llm := &stubLLM{responses: []string{"<h1>EV Sales</h1><p>Sales grew 30%.</p>"}}
	artifact, err := newGenerator(llm, "html").Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactHTML, artifact.Kind)
	assert.True(t, strings.HasPrefix(strings.ToLower(artifact.Body), "<!doctype html>"))
	assert.Contains(t, artifact.Body, "<h1>EV Sales</h1>")
}

func TestGenerateHTMLKeepsCompleteDocument(t *testing.T) {
	doc := "<!DOCTYPE html>\n<html><head><title>t</title></head><body><p>content</p></body></html>"
	llm := &stubLLM{responses: []string{doc}}
	artifact, err := newGenerator(llm, "html").Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, doc, artifact.Body)
	assert.Equal(t, 1, llm.calls)
}

func TestGenerateRetriesOnStructuralFailure(t *testing.T) {
	llm := &stubLLM{responses: []string{
		"just prose with no headings at all",
		"# Fixed Report\n\ncontent",
	}}
	artifact, err := newGenerator(llm, "markdown").Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls)
	assert.Contains(t, artifact.Body, "# Fixed Report")
}

func TestGenerateReturnsFlawedArtifactAfterRetry(t *testing.T) {
	llm := &stubLLM{responses: []string{"still no headings"}}
	artifact, err := newGenerator(llm, "markdown").Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls)
	assert.Equal(t, "still no headings", artifact.Body)
}

func TestGenerateRetriesOnEmptyResponse(t *testing.T) {
	llm := &stubLLM{responses: []string{
		"",
		"# Recovered Report\n\ncontent",
	}}
	artifact, err := newGenerator(llm, "markdown").Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls)
	assert.Contains(t, artifact.Body, "# Recovered Report")
}

func TestGenerateFailsOnModelError(t *testing.T) {
	llm := &stubLLM{err: errors.New("connection refused")}
	req := sampleRequest()

	_, err := newGenerator(llm, "markdown").Generate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 1, llm.calls, "transport errors are not retried here")
	assert.Empty(t, req.History, "a failed run must not grow the history")
}

func TestGenerateAppendsHistoryExchange(t *testing.T) {
	llm := &stubLLM{responses: []string{"# EV Sales\n\n## Data\n\nlots of figures"}}
	req := sampleRequest()
	req.History = models.ConversationHistory{
		{Role: models.RoleUser, Content: "earlier question"},
		{Role: models.RoleAssistant, Content: models.ArtifactPlaceholder},
	}

	artifact, err := newGenerator(llm, "markdown").Generate(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, req.History, 4)
	assert.Equal(t, models.RoleUser, req.History[2].Role)
	assert.Equal(t, req.UserQuery, req.History[2].Content)
	assert.Equal(t, models.RoleAssistant, req.History[3].Role)
	assert.NotEqual(t, artifact.Body, req.History[3].Content, "the assistant turn is a summary, not the artifact")
}

func TestPromptOrdersSearchFindings(t *testing.T) {
	llm := &stubLLM{responses: []string{"# R\n\nc"}}
	req := sampleRequest()
	req.Queries = []string{"second query", "first query"}
	req.SearchResults = models.SearchResults{
		"first query":  {{Title: "F", URL: "https://f", Snippet: "first snippet"}},
		"second query": {{Title: "S", URL: "https://s", Snippet: "second snippet"}},
	}

	_, err := newGenerator(llm, "markdown").Generate(context.Background(), req)
	require.NoError(t, err)

	prompt := llm.messages[len(llm.messages)-1].Content
	second := strings.Index(prompt, "second snippet")
	first := strings.Index(prompt, "first snippet")
	require.GreaterOrEqual(t, second, 0)
	require.GreaterOrEqual(t, first, 0)
	assert.Less(t, second, first, "findings must follow the executed query order")
}

func TestMarkdownPromptFixesSectionOrder(t *testing.T) {
	llm := &stubLLM{responses: []string{"# R\n\nc"}}
	_, err := newGenerator(llm, "markdown").Generate(context.Background(), sampleRequest())
	require.NoError(t, err)

	prompt := llm.messages[len(llm.messages)-1].Content
	assert.Contains(t, prompt, "Executive Summary")
	assert.Contains(t, prompt, "Key Findings")
	assert.Contains(t, prompt, "Conclusions")
	assert.Contains(t, prompt, "EVERY row")
	assert.Contains(t, prompt, "ellipses")
	assert.Less(t, strings.Index(prompt, "Executive Summary"), strings.Index(prompt, "Conclusions"))
}

func TestGenerateLabModePrompt(t *testing.T) {
	llm := &stubLLM{responses: []string{"<!DOCTYPE html><html><body><p>x</p></body></html>"}}
	req := sampleRequest()
	req.LabMode = true

	_, err := newGenerator(llm, "html").Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, llm.messages[len(llm.messages)-1].Content, "lab mode")
}

func TestVerifyHTML(t *testing.T) {
	logger := common.GetLogger()

	t.Run("valid document", func(t *testing.T) {
		issues := verifyHTML("<!DOCTYPE html><html><body><p>hello</p></body></html>", logger)
		assert.Empty(t, issues)
	})

	t.Run("empty body", func(t *testing.T) {
		issues := verifyHTML("<!DOCTYPE html><html><body></body></html>", logger)
		assert.NotEmpty(t, issues)
	})

	t.Run("external script", func(t *testing.T) {
		issues := verifyHTML(`<!DOCTYPE html><html><head><script src="https://cdn.example/chart.js"></script></head><body><p>x</p></body></html>`, logger)
		assert.NotEmpty(t, issues)
	})

	t.Run("svg-only body passes", func(t *testing.T) {
		issues := verifyHTML(`<!DOCTYPE html><html><body><svg><rect width="1" height="1"/></svg></body></html>`, logger)
		assert.Empty(t, issues)
	})
}

func TestPromptIncludesCompactedHistory(t *testing.T) {
	llm := &stubLLM{responses: []string{"# R\n\nc"}}
	req := sampleRequest()
	req.History = models.ConversationHistory{
		{Role: models.RoleUser, Content: "earlier question"},
		{Role: models.RoleAssistant, Content: "# Old Report\n\n" + strings.Repeat("long body ", 200)},
	}

	_, err := newGenerator(llm, "markdown").Generate(context.Background(), req)
	require.NoError(t, err)

	var sawPlaceholder, sawEarlier bool
	for _, m := range llm.messages {
		if m.Content == models.ArtifactPlaceholder {
			sawPlaceholder = true
		}
		if m.Content == "earlier question" {
			sawEarlier = true
		}
	}
	assert.True(t, sawPlaceholder, "old artifact body should be compacted to the placeholder")
	assert.True(t, sawEarlier)
}
