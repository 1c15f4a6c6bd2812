package generator

import (
	"fmt"
	"strings"

	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

const markdownSystemPrompt = `You are a research analyst producing a written report. You write precise, well-structured Markdown grounded strictly in the source material you are given. You never invent figures and you attribute notable claims to their source URLs.`

const markdownInstructions = `Write a complete Markdown research report answering the request above.

Structure the report in exactly this order:
1. A single top-level heading (#) naming the report.
2. ## Executive Summary - a short paragraph answering the request directly.
3. ## Key Findings - the most important results as a bulleted list.
4. One ## section per dataset or topic, each containing a brief overview, a complete Markdown table with EVERY row of the relevant data, and a short analysis paragraph.
5. ## Additional Insights - notable secondary observations.
6. ## Conclusions - what the evidence supports.
7. ## Sources - the URLs the report draws on.

Requirements:
- Tables must be complete: include every row of data, never a sample.
- Never abbreviate with ellipses ("...") or placeholders like "remaining rows omitted".
- Cite source URLs inline where specific claims come from specific pages.
- Respond with ONLY the Markdown document, no preamble and no code fences.`

const htmlSystemPrompt = `You are a front-end engineer producing a single-file HTML report. You write complete, self-contained documents: all CSS and JavaScript inline, no external resources, no CDN references, and no charting libraries of any kind (no chart.js, d3, plotly or similar). Charts, when useful, are drawn with inline SVG or styled HTML.`

const htmlInstructions = `Produce a complete self-contained HTML document presenting this research.

Requirements:
- One file: <!DOCTYPE html> through </html>, with all styling and scripting inline.
- No external stylesheets, scripts, fonts, or images. No charting libraries.
- Present the findings in clearly titled sections; use tables or inline SVG for data.
- Keep the page readable without JavaScript enabled.
- Respond with ONLY the HTML document, no commentary and no code fences.`

const labModeAddendum = `
This run is in lab mode: favor an interactive presentation. Add tasteful inline-scripted behavior (collapsible sections, sortable tables, hover detail) while keeping the document fully self-contained.`

// buildPrompt assembles the generation conversation: the mode's system
// prompt, prior turns for context, and one user turn carrying the request
// and all evidence.
func buildPrompt(req *Request, kind models.ArtifactKind) []promptTurn {
	var system string
	var instructions string
	if kind == models.ArtifactHTML {
		system = htmlSystemPrompt
		instructions = htmlInstructions
	} else {
		system = markdownSystemPrompt
		instructions = markdownInstructions
	}
	if req.LabMode && kind == models.ArtifactHTML {
		instructions += labModeAddendum
	}

	turns := []promptTurn{{role: "system", content: system}}
	for _, t := range req.History.Compact() {
		turns = append(turns, promptTurn{role: t.Role, content: t.Content})
	}
	turns = append(turns, promptTurn{role: "user", content: buildUserTurn(req, instructions)})
	return turns
}

type promptTurn struct {
	role    string
	content string
}

func buildUserTurn(req *Request, instructions string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Request: %s\n", req.UserQuery)

	if len(req.SearchResults) > 0 {
		b.WriteString("\nWeb search findings:\n")
		for _, query := range req.SearchResults.OrderedQueries(req.Queries) {
			for _, hit := range req.SearchResults[query] {
				fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", query, hit.Title, hit.URL, hit.Snippet)
			}
		}
	}

	if scrapes := models.SuccessfulScrapes(req.Scrapes); len(scrapes) > 0 {
		b.WriteString("\nScraped page content:\n")
		for _, scrape := range scrapes {
			fmt.Fprintf(&b, "\nFrom %s (relevance %.2f):\n%s\n", scrape.URL, scrape.Score, scrape.BestChunk)
		}
	}

	if len(req.Data) > 0 {
		fmt.Fprintf(&b, "\nExtracted structured data:\n%s\n", string(req.Data.JSON()))
	}

	b.WriteString("\n")
	b.WriteString(instructions)
	return b.String()
}
