// Package conversation holds the vendor-neutral conversation log: the
// canonical Message/ContentBlock model and the ConversationState that owns
// it for the lifetime of a worker turn.
package conversation

import "fmt"

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool-result"
)

// BlockKind tags the variant a ContentBlock holds. ContentBlock is a
// tagged union (Text | ToolCall | ToolResult), not a struct of nullable
// fields: each accessor panics if called against the wrong kind, so a
// caller can never silently read a zero value for the wrong variant.
type BlockKind int

const (
	KindText BlockKind = iota
	KindToolCall
	KindToolResult
)

func (k BlockKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindToolCall:
		return "tool_call"
	case KindToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// ContentBlock is one element of a Message's content sequence.
type ContentBlock struct {
	kind BlockKind

	// Text
	text string

	// ToolCall (assistant messages only)
	toolCallID   string
	toolCallName string
	toolParams   map[string]interface{}

	// ToolResult (tool-result messages only)
	toolResultID   string // MUST equal a prior ToolCall.id
	toolResultName string
	output         interface{}
	isError        bool
}

// NewTextBlock builds a Text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{kind: KindText, text: text}
}

// NewToolCallBlock builds a ToolCall content block.
func NewToolCallBlock(id, name string, params map[string]interface{}) ContentBlock {
	return ContentBlock{kind: KindToolCall, toolCallID: id, toolCallName: name, toolParams: params}
}

// NewToolResultBlock builds a ToolResult content block. toolID must equal
// the ToolCall.id it answers.
func NewToolResultBlock(toolID, toolName string, output interface{}, isError bool) ContentBlock {
	return ContentBlock{
		kind:           KindToolResult,
		toolResultID:   toolID,
		toolResultName: toolName,
		output:         output,
		isError:        isError,
	}
}

// Kind reports which variant this block holds.
func (b ContentBlock) Kind() BlockKind { return b.kind }

func (b ContentBlock) requireKind(k BlockKind) {
	if b.kind != k {
		panic(fmt.Sprintf("conversation: ContentBlock is %s, not %s", b.kind, k))
	}
}

// Text returns the text of a Text block. Panics on any other kind.
func (b ContentBlock) Text() string {
	b.requireKind(KindText)
	return b.text
}

// ToolCallID returns the id of a ToolCall block. Panics on any other kind.
func (b ContentBlock) ToolCallID() string {
	b.requireKind(KindToolCall)
	return b.toolCallID
}

// ToolCallName returns the tool name of a ToolCall block.
func (b ContentBlock) ToolCallName() string {
	b.requireKind(KindToolCall)
	return b.toolCallName
}

// ToolCallParams returns the parameters of a ToolCall block.
func (b ContentBlock) ToolCallParams() map[string]interface{} {
	b.requireKind(KindToolCall)
	return b.toolParams
}

// ToolResultID returns the tool_id a ToolResult block answers.
func (b ContentBlock) ToolResultID() string {
	b.requireKind(KindToolResult)
	return b.toolResultID
}

// ToolResultName returns the tool name a ToolResult block answers.
func (b ContentBlock) ToolResultName() string {
	b.requireKind(KindToolResult)
	return b.toolResultName
}

// ToolOutput returns the output payload of a ToolResult block.
func (b ContentBlock) ToolOutput() interface{} {
	b.requireKind(KindToolResult)
	return b.output
}

// IsError reports whether a ToolResult block represents a tool failure.
func (b ContentBlock) IsError() bool {
	b.requireKind(KindToolResult)
	return b.isError
}

// Message is the atomic unit of conversation state: a role plus an ordered
// sequence of content blocks.
type Message struct {
	Role     Role
	Contents []ContentBlock
}

// NewTextMessage builds a single-block text message for the given role.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Contents: []ContentBlock{NewTextBlock(text)}}
}

// ToolCalls returns the ToolCall blocks in this message, in order.
func (m Message) ToolCalls() []ContentBlock {
	var out []ContentBlock
	for _, c := range m.Contents {
		if c.Kind() == KindToolCall {
			out = append(out, c)
		}
	}
	return out
}

// ToolResults returns the ToolResult blocks in this message, in order.
func (m Message) ToolResults() []ContentBlock {
	var out []ContentBlock
	for _, c := range m.Contents {
		if c.Kind() == KindToolResult {
			out = append(out, c)
		}
	}
	return out
}

// TextContent concatenates every Text block's text, in order.
func (m Message) TextContent() string {
	var out string
	for _, c := range m.Contents {
		if c.Kind() == KindText {
			if out != "" {
				out += "\n"
			}
			out += c.Text()
		}
	}
	return out
}
