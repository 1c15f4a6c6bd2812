package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// Request carries everything the generator needs for one artifact.
// Queries is the executed search query order; prompt evidence follows it.
// On success the generator appends the exchange to History: the user's
// query and a short assistant summary, never the artifact body.
type Request struct {
	UserQuery     string
	History       models.ConversationHistory
	Queries       []string
	SearchResults models.SearchResults
	Scrapes       []models.ScrapeResult
	Data          models.DataBag
	LabMode       bool
}

// Service produces the final artifact of a research run: a Markdown report
// or a self-contained HTML document, depending on the configured mode.
type Service struct {
	llm            interfaces.LLMService
	logger         arbor.ILogger
	kind           models.ArtifactKind
	retryOnInvalid bool
}

// NewService creates a new artifact generator
func NewService(llm interfaces.LLMService, generatorConfig *common.GeneratorConfig, logger arbor.ILogger) *Service {
	kind := models.ArtifactMarkdown
	if generatorConfig.Mode == "html" {
		kind = models.ArtifactHTML
	}
	return &Service{
		llm:            llm,
		logger:         logger,
		kind:           kind,
		retryOnInvalid: generatorConfig.RetryOnInvalid,
	}
}

// Kind returns the artifact kind this generator produces
func (s *Service) Kind() models.ArtifactKind {
	return s.kind
}

// Generate produces the artifact. A structurally invalid first attempt,
// including an empty model reply, is retried once when configured; an
// invalid retry is still returned, as a flawed artifact beats none. Model
// call failures are not retried here and fail the run.
//
// On success the exchange is appended to req.History: the user's query and
// a short assistant summary standing in for the artifact body.
func (s *Service) Generate(ctx context.Context, req *Request) (*models.Artifact, error) {
	startTime := time.Now()

	artifact, issues, err := s.generateOnce(ctx, req)
	if err != nil {
		return nil, err
	}

	if (artifact == nil || len(issues) > 0) && s.retryOnInvalid {
		s.logger.Warn().
			Strs("issues", issues).
			Bool("empty_response", artifact == nil).
			Msg("Artifact failed structural verification, regenerating once")

		retried, retryIssues, retryErr := s.generateOnce(ctx, req)
		if retryErr != nil && artifact == nil {
			return nil, retryErr
		}
		if retried != nil {
			artifact = retried
			issues = retryIssues
		}
	}

	if artifact == nil {
		return nil, fmt.Errorf("model returned an empty artifact")
	}

	if len(issues) > 0 {
		s.logger.Warn().
			Strs("issues", issues).
			Msg("Returning artifact despite structural issues")
	}

	req.History = append(req.History,
		models.ConversationTurn{Role: models.RoleUser, Content: req.UserQuery},
		models.ConversationTurn{Role: models.RoleAssistant, Content: models.ArtifactPlaceholder},
	)

	s.logger.Info().
		Str("kind", string(artifact.Kind)).
		Int("length", len(artifact.Body)).
		Dur("duration", time.Since(startTime)).
		Msg("Artifact generated")

	return artifact, nil
}

// generateOnce runs one generation attempt. A nil artifact with a nil error
// means the model replied with empty content, which the caller may retry.
func (s *Service) generateOnce(ctx context.Context, req *Request) (*models.Artifact, []string, error) {
	messages := make([]interfaces.Message, 0, len(req.History)+2)
	for _, turn := range buildPrompt(req, s.kind) {
		messages = append(messages, interfaces.Message{Role: turn.role, Content: turn.content})
	}

	response, err := s.llm.Chat(ctx, messages)
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("Artifact generation call failed")
		return nil, nil, fmt.Errorf("artifact generation failed: %w", err)
	}

	body := common.StripCodeFences(response)
	if body == "" {
		return nil, nil, nil
	}

	if s.kind == models.ArtifactHTML {
		body = ensureDocument(body)
	}

	artifact := &models.Artifact{Kind: s.kind, Body: body}
	return artifact, s.verify(artifact), nil
}

func (s *Service) verify(artifact *models.Artifact) []string {
	if artifact.Kind == models.ArtifactHTML {
		return verifyHTML(artifact.Body, s.logger)
	}
	return verifyMarkdown(artifact.Body)
}

// ensureDocument wraps a bare HTML fragment in a minimal document when the
// model answered with body content only.
func ensureDocument(body string) string {
	lower := strings.ToLower(strings.TrimSpace(body))
	if strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") {
		return body
	}
	return "<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>Research Report</title></head>\n<body>\n" +
		body + "\n</body>\n</html>"
}

func verifyMarkdown(body string) []string {
	var issues []string
	hasHeading := false
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			hasHeading = true
			break
		}
	}
	if !hasHeading {
		issues = append(issues, "markdown report has no headings")
	}
	return issues
}
