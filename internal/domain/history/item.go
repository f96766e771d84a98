// Package history models the wire items exchanged with the reasoning model
// and the worker CLI, and the conversation-history invariants the
// coordinator must preserve across turns and compactions.
package history

import "strings"

// ItemKind discriminates the ResponseItem sum type.
type ItemKind string

const (
	KindMessage              ItemKind = "message"
	KindReasoning            ItemKind = "reasoning"
	KindFunctionCall         ItemKind = "function_call"
	KindFunctionCallOutput   ItemKind = "function_call_output"
	KindCustomToolCall       ItemKind = "custom_tool_call"
	KindCustomToolCallOutput ItemKind = "custom_tool_call_output"
	KindLocalShellCall       ItemKind = "local_shell_call"
	KindWebSearchCall        ItemKind = "web_search_call"
)

// Role is the speaker role on a Message item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
	RoleSystem    Role = "system"
)

// ContentChunkType discriminates ContentChunk.
type ContentChunkType string

const (
	ChunkInputText  ContentChunkType = "input_text"
	ChunkOutputText ContentChunkType = "output_text"
	ChunkInputImage ContentChunkType = "input_image"
)

// ContentChunk is one fragment of a Message's content.
type ContentChunk struct {
	Type ContentChunkType `json:"type"`
	Text string           `json:"text,omitempty"`
	URL  string           `json:"image_url,omitempty"`
}

func InputText(text string) ContentChunk  { return ContentChunk{Type: ChunkInputText, Text: text} }
func OutputText(text string) ContentChunk { return ContentChunk{Type: ChunkOutputText, Text: text} }
func InputImage(url string) ContentChunk  { return ContentChunk{Type: ChunkInputImage, URL: url} }

// Text concatenates the text-bearing chunks of a content slice.
func Text(chunks []ContentChunk) string {
	var out string
	for _, c := range chunks {
		if c.Type == ChunkInputText || c.Type == ChunkOutputText {
			out += c.Text
		}
	}
	return out
}

// ReasoningSummary is one summary fragment of a Reasoning item.
type ReasoningSummary struct {
	Text string `json:"text"`
}

// ReasoningContent is one body fragment of a Reasoning item.
type ReasoningContent struct {
	Text string `json:"text"`
}

// ResponseItem is a flat encoding of the wire-item sum type:
// Message, Reasoning, FunctionCall(Output), CustomToolCall(Output),
// LocalShellCall, WebSearchCall. One struct carries a Type
// discriminator plus the optional
// fields relevant to that type, rather than a Go interface hierarchy;
// this keeps JSON (de)serialization trivial and matches the rest of the
// wire-item code in this codebase.
type ResponseItem struct {
	Type ItemKind `json:"type"`

	// Message
	ID      string         `json:"id,omitempty"`
	Role    Role           `json:"role,omitempty"`
	Content []ContentChunk `json:"content,omitempty"`

	// Reasoning
	Summary          []ReasoningSummary `json:"summary,omitempty"`
	ReasoningContent []ReasoningContent `json:"reasoning_content,omitempty"`
	EncryptedContent string             `json:"encrypted_content,omitempty"`

	// FunctionCall / CustomToolCall / LocalShellCall / WebSearchCall
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"` // FunctionCall
	Input     string `json:"input,omitempty"`     // CustomToolCall

	// *Output
	Output        string `json:"output,omitempty"`
	OutputSuccess *bool  `json:"success,omitempty"`
}

// NewMessage constructs a Message item.
func NewMessage(role Role, content ...ContentChunk) ResponseItem {
	return ResponseItem{Type: KindMessage, Role: role, Content: content}
}

// NewUserMessage is a convenience constructor for a plain-text user message.
func NewUserMessage(text string) ResponseItem {
	return NewMessage(RoleUser, InputText(text))
}

// NewFunctionCall constructs a FunctionCall item.
func NewFunctionCall(callID, name, arguments string) ResponseItem {
	return ResponseItem{Type: KindFunctionCall, CallID: callID, Name: name, Arguments: arguments}
}

// NewFunctionCallOutput constructs a FunctionCallOutput item.
func NewFunctionCallOutput(callID, output string, success *bool) ResponseItem {
	return ResponseItem{Type: KindFunctionCallOutput, CallID: callID, Output: output, OutputSuccess: success}
}

// IsCall reports whether the item introduces a call_id that a later
// *Output item may reference.
func (r ResponseItem) IsCall() bool {
	switch r.Type {
	case KindFunctionCall, KindCustomToolCall, KindLocalShellCall, KindWebSearchCall:
		return true
	default:
		return false
	}
}

// IsOutput reports whether the item must be preceded by a matching call.
func (r ResponseItem) IsOutput() bool {
	switch r.Type {
	case KindFunctionCallOutput, KindCustomToolCallOutput:
		return true
	default:
		return false
	}
}

// IsUserMessage reports whether the item is a user-role Message.
func (r ResponseItem) IsUserMessage() bool {
	return r.Type == KindMessage && r.Role == RoleUser
}

// TextContent returns the flattened text of a Message item, or "".
func (r ResponseItem) TextContent() string {
	if r.Type != KindMessage {
		return ""
	}
	return Text(r.Content)
}

// ContainsPopularCommands reports the legacy-HUD artifact literal the
// coordinator strips before handing history to the model.
func (r ResponseItem) ContainsPopularCommands() bool {
	if !r.IsUserMessage() {
		return false
	}
	return strings.Contains(r.TextContent(), "Popular commands:")
}
