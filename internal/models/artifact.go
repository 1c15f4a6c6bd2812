package models

// ArtifactKind selects the artifact flavor the generator produces.
type ArtifactKind string

const (
	ArtifactMarkdown ArtifactKind = "markdown"
	ArtifactHTML     ArtifactKind = "html"
)

// Artifact is the final rendered output of a research run: either a
// Markdown report or a self-contained HTML application.
type Artifact struct {
	Kind ArtifactKind `json:"kind"`
	Body string       `json:"body"`
}
