package models

import "encoding/json"

// ProgressEventType identifies one of the closed set of progress event
// kinds broadcast on the job's pub/sub channel. Subscribers must tolerate
// values outside this set.
type ProgressEventType string

const (
	EventStarted         ProgressEventType = "started"
	EventReasoning       ProgressEventType = "reasoning"
	EventSources         ProgressEventType = "sources"
	EventHTML            ProgressEventType = "html"
	EventMarkdown        ProgressEventType = "markdown"
	EventAnalysisSummary ProgressEventType = "analysis_summary"
	EventComplete        ProgressEventType = "complete"
	EventError           ProgressEventType = "error"
	EventDone            ProgressEventType = "done"
)

// SourcesContent is the payload of a sources event: the transformed search
// query and the URLs first seen under it.
type SourcesContent struct {
	TransformedQuery string   `json:"transformed_query"`
	URLs             []string `json:"urls"`
}

// ProgressEvent is one tagged message on the job progress channel. Content
// is kept raw so that publishing and consuming round-trip without loss and
// unknown event kinds pass through untouched.
type ProgressEvent struct {
	Type    ProgressEventType `json:"type"`
	Content json.RawMessage   `json:"content,omitempty"`
	Fatal   bool              `json:"fatal,omitempty"`
}

// IsTerminal reports whether no further events will follow on the channel.
// Only complete and fatal errors terminate a stream; done is advisory and
// always preceded by complete.
func (e *ProgressEvent) IsTerminal() bool {
	return e.Type == EventComplete || (e.Type == EventError && e.Fatal)
}

// Text returns the content decoded as a plain string, or "" if the
// content is absent or not a string.
func (e *ProgressEvent) Text() string {
	var s string
	if err := json.Unmarshal(e.Content, &s); err != nil {
		return ""
	}
	return s
}

// Sources decodes the content of a sources event.
func (e *ProgressEvent) Sources() (*SourcesContent, error) {
	var sc SourcesContent
	if err := json.Unmarshal(e.Content, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Final decodes the content of a complete event.
func (e *ProgressEvent) Final() (*FinalPayload, error) {
	var fp FinalPayload
	if err := json.Unmarshal(e.Content, &fp); err != nil {
		return nil, err
	}
	return &fp, nil
}

func textEvent(t ProgressEventType, content string) ProgressEvent {
	raw, _ := json.Marshal(content)
	return ProgressEvent{Type: t, Content: raw}
}

// NewStartedEvent announces that the orchestration task has picked up a job.
func NewStartedEvent(content string) ProgressEvent {
	return textEvent(EventStarted, content)
}

// NewReasoningEvent carries a human-readable description of the stage the
// pipeline just entered.
func NewReasoningEvent(content string) ProgressEvent {
	return textEvent(EventReasoning, content)
}

// NewSourcesEvent carries the URLs first discovered under one search query.
func NewSourcesEvent(query string, urls []string) ProgressEvent {
	raw, _ := json.Marshal(SourcesContent{TransformedQuery: query, URLs: urls})
	return ProgressEvent{Type: EventSources, Content: raw}
}

// NewArtifactEvent carries the generated artifact body under the event type
// matching its kind (html or markdown).
func NewArtifactEvent(a *Artifact) ProgressEvent {
	t := EventMarkdown
	if a.Kind == ArtifactHTML {
		t = EventHTML
	}
	return textEvent(t, a.Body)
}

// NewAnalysisSummaryEvent carries the analytical narrative.
func NewAnalysisSummaryEvent(content string) ProgressEvent {
	return textEvent(EventAnalysisSummary, content)
}

// NewCompleteEvent carries the structured final payload.
func NewCompleteEvent(fp *FinalPayload) ProgressEvent {
	raw, _ := json.Marshal(fp)
	return ProgressEvent{Type: EventComplete, Content: raw}
}

// NewErrorEvent carries a human-friendly failure message. Fatal means no
// further events will arrive on the channel.
func NewErrorEvent(msg string, fatal bool) ProgressEvent {
	ev := textEvent(EventError, msg)
	ev.Fatal = fatal
	return ev
}

// NewDoneEvent marks the end of the executor's event sequence.
func NewDoneEvent() ProgressEvent {
	return textEvent(EventDone, "")
}

// FinalPayload is the exit contract of the pipeline executor, carried by
// the terminal complete event and returned to the task caller. Content is
// the analytical narrative; App is the artifact body; Sources holds one
// url list per executed search query, in execution order.
type FinalPayload struct {
	ConversationID string              `json:"conversation_id"`
	Content        string              `json:"content"`
	Sources        [][]string          `json:"sources"`
	ReasoningSteps []string            `json:"reasoning_steps"`
	Assets         json.RawMessage     `json:"assets,omitempty"`
	App            string              `json:"app"`
	LabMode        bool                `json:"lab_mode"`
	History        ConversationHistory `json:"conversation_history,omitempty"`
}
