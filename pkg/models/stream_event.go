package models

// StreamKind identifies the kind of a stream event.
type StreamKind string

const (
	// StreamID announces the id of a document being drafted.
	StreamID StreamKind = "id"

	// StreamTitle announces the title of a document being drafted.
	StreamTitle StreamKind = "title"

	// StreamClear tells the client to reset the document buffer.
	StreamClear StreamKind = "clear"

	// StreamTextDelta carries an incremental text fragment.
	StreamTextDelta StreamKind = "text-delta"

	// StreamSuggestion carries one Suggestion.
	StreamSuggestion StreamKind = "suggestion"

	// StreamToolCall relays a model tool call to the client.
	StreamToolCall StreamKind = "tool-call"

	// StreamToolResult relays a settled tool invocation to the client.
	StreamToolResult StreamKind = "tool-result"

	// StreamError reports a terminal failure.
	StreamError StreamKind = "error"

	// StreamFinish ends a sub-stream, or the whole stream on the turn sub-stream.
	StreamFinish StreamKind = "finish"
)

// StreamEvent is one write-once item of the multiplexed output.
type StreamEvent struct {
	Kind    StreamKind `json:"type"`
	Content any        `json:"content"`
}

// TextDelta builds a text-delta event.
func TextDelta(fragment string) StreamEvent {
	return StreamEvent{Kind: StreamTextDelta, Content: fragment}
}

// NewStreamEvent builds an event with string content.
func NewStreamEvent(kind StreamKind, content string) StreamEvent {
	return StreamEvent{Kind: kind, Content: content}
}
