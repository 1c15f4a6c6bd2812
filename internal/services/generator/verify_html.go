package generator

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

// Charting libraries the HTML prompt forbids. Their presence means the
// document depends on an external resource and will render broken.
var disallowedLibraries = []string{"chart.js", "chartjs", "d3.js", "plotly"}

// verifyHTML checks that the document parses, has body content, and pulls
// in no external scripts or stylesheets. Issues are returned for the retry
// decision; the disallowed-library scan only warns, since the document may
// merely mention a library by name.
func verifyHTML(body string, logger arbor.ILogger) []string {
	var issues []string

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return []string{fmt.Sprintf("html does not parse: %v", err)}
	}

	if strings.TrimSpace(doc.Find("body").Text()) == "" && doc.Find("body svg, body table").Length() == 0 {
		issues = append(issues, "html document has an empty body")
	}

	externalRefs := 0
	doc.Find("script[src]").Each(func(_ int, sel *goquery.Selection) {
		externalRefs++
	})
	doc.Find("link[rel='stylesheet']").Each(func(_ int, sel *goquery.Selection) {
		externalRefs++
	})
	if externalRefs > 0 {
		issues = append(issues, fmt.Sprintf("html document references %d external resources", externalRefs))
	}

	lower := strings.ToLower(body)
	for _, lib := range disallowedLibraries {
		if strings.Contains(lower, lib) {
			logger.Warn().
				Str("library", lib).
				Msg("Generated HTML mentions a disallowed charting library")
		}
	}

	return issues
}
