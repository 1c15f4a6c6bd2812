package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/umeshrajanna/deepship-llm-worker/internal/common"
	"github.com/umeshrajanna/deepship-llm-worker/internal/interfaces"
	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// Service turns a user query into a bounded research plan. Planning never
// fails: any model or parse error degrades to the fallback plan that
// searches the user's own words verbatim.
type Service struct {
	llm        interfaces.LLMService
	logger     arbor.ILogger
	maxQueries int
}

// NewService creates a new planner service
func NewService(llm interfaces.LLMService, pipelineConfig *common.PipelineConfig, logger arbor.ILogger) *Service {
	maxQueries := pipelineConfig.MaxSearchQueries
	if maxQueries <= 0 {
		maxQueries = 5
	}
	return &Service{
		llm:        llm,
		logger:     logger,
		maxQueries: maxQueries,
	}
}

const planPromptTemplate = `Today's date is %s.

Analyze the user's request and decide what research is needed to answer it well.

User request: %s
%s
Respond with ONLY a JSON object, no prose, in exactly this shape:
{
  "web_search_needed": true or false,
  "search_queries": ["up to %d focused web search queries"],
  "data_extraction_needed": true or false,
  "data_types": ["categories of structured data to extract, e.g. statistics, prices, dates"]
}

Guidelines:
- web_search_needed is true when the request involves current events, facts, statistics, prices, comparisons, or anything that benefits from up-to-date sources. Pure creative or conversational requests need no search.
- Each search query should target a distinct aspect of the request.
- Do not add year numbers to queries unless the user asked about a specific period.
- data_extraction_needed is true when the answer should be built on concrete figures, tables, or enumerable facts.`

// Plan produces a research plan for the user query. Prior user turns are
// summarized into the prompt so follow-up questions plan in context.
func (s *Service) Plan(ctx context.Context, userQuery string, history models.ConversationHistory) *models.ResearchPlan {
	prompt := s.buildPrompt(userQuery, history)

	startTime := time.Now()
	response, err := s.llm.Chat(ctx, []interfaces.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Msg("Planner model call failed, using fallback plan")
		return s.normalize(models.FallbackPlan(userQuery), userQuery)
	}

	plan, err := parsePlan(response)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Int("response_length", len(response)).
			Msg("Planner response unparseable, using fallback plan")
		return s.normalize(models.FallbackPlan(userQuery), userQuery)
	}

	s.logger.Debug().
		Bool("web_search_needed", plan.WebSearchNeeded).
		Int("queries", len(plan.SearchQueries)).
		Bool("data_extraction_needed", plan.DataExtractionNeeded).
		Dur("duration", time.Since(startTime)).
		Msg("Research plan produced")

	return s.normalize(plan, userQuery)
}

func (s *Service) buildPrompt(userQuery string, history models.ConversationHistory) string {
	var context string
	if prior := history.UserQueries(); len(prior) > 0 {
		context = fmt.Sprintf("\nEarlier questions in this conversation: %s\n", strings.Join(prior, "; "))
	}
	return fmt.Sprintf(planPromptTemplate, time.Now().Format("January 2, 2006"), userQuery, context, s.maxQueries)
}

// parsePlan recovers a plan from model output. Strict JSON is tried first,
// then Python-literal coercion, then extraction of the first balanced
// object from surrounding prose.
func parsePlan(response string) (*models.ResearchPlan, error) {
	cleaned := common.StripCodeFences(response)

	if plan, err := decodePlan([]byte(cleaned)); err == nil {
		return plan, nil
	}

	coerced := common.CoercePythonLiterals(cleaned)
	if plan, err := decodePlan([]byte(coerced)); err == nil {
		return plan, nil
	}

	if extracted := common.ExtractJSONObject(coerced); extracted != "" {
		if plan, err := decodePlan([]byte(extracted)); err == nil {
			return plan, nil
		}
	}

	return nil, fmt.Errorf("no valid plan object in response")
}

// decodePlan tolerates the common model deviations from the requested
// shape: booleans quoted as strings and a single query given as a bare
// string instead of a list.
func decodePlan(data []byte) (*models.ResearchPlan, error) {
	var loose struct {
		WebSearchNeeded      json.RawMessage `json:"web_search_needed"`
		SearchQueries        json.RawMessage `json:"search_queries"`
		DataExtractionNeeded json.RawMessage `json:"data_extraction_needed"`
		DataTypes            json.RawMessage `json:"data_types"`
	}
	if err := json.Unmarshal(data, &loose); err != nil {
		return nil, err
	}
	if loose.WebSearchNeeded == nil && loose.SearchQueries == nil {
		return nil, fmt.Errorf("response object carries no plan fields")
	}
	return &models.ResearchPlan{
		WebSearchNeeded:      coerceBool(loose.WebSearchNeeded),
		SearchQueries:        coerceList(loose.SearchQueries),
		DataExtractionNeeded: coerceBool(loose.DataExtractionNeeded),
		DataTypes:            coerceList(loose.DataTypes),
	}, nil
}

func coerceBool(raw json.RawMessage) bool {
	if raw == nil {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(strings.TrimSpace(s), "true")
	}
	return false
}

func coerceList(raw json.RawMessage) []string {
	if raw == nil {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
		return []string{s}
	}
	return []string{}
}

// normalize enforces the plan's bounds: relative date words resolved,
// queries deduplicated, scrubbed of stale years, capped, and never empty
// when search is wanted.
func (s *Service) normalize(plan *models.ResearchPlan, userQuery string) *models.ResearchPlan {
	now := time.Now()
	seen := make(map[string]struct{}, len(plan.SearchQueries))
	queries := make([]string, 0, len(plan.SearchQueries))
	for _, q := range plan.SearchQueries {
		q = ScrubStaleYears(ReplaceTemporalKeywords(q, now))
		key := strings.ToLower(strings.TrimSpace(q))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		queries = append(queries, strings.TrimSpace(q))
	}
	plan.SearchQueries = queries

	if plan.WebSearchNeeded && len(plan.SearchQueries) == 0 {
		plan.SearchQueries = []string{userQuery}
	}

	plan.CapQueries(s.maxQueries)

	if plan.DataTypes == nil {
		plan.DataTypes = []string{}
	}

	return plan
}
