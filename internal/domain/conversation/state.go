package conversation

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ToolResultInput is the plain-data shape callers build before handing
// results to AppendToolResults, so this package never has to import the
// tool engine.
type ToolResultInput struct {
	ToolID   string
	ToolName string
	Output   interface{}
	IsError  bool
}

// DirectoryDescriber renders one working directory's contribution to the
// system prompt (file tree summary, README excerpt, etc). Kept as a narrow
// interface so State doesn't depend on the filesystem-walking collaborator.
type DirectoryDescriber interface {
	Describe(path string) string
}

// State is the canonical, vendor-neutral conversation log plus the
// metadata needed to resolve tool paths and correlate audit rows. The
// worker thread is the sole writer during a turn; the UI thread only reads
// posted snapshots through the UI queue, never this struct directly.
type State struct {
	mu sync.RWMutex

	model        string
	toolPrompt   string // tool descriptions baked into the system prompt
	userContext  string // user-provided context baked into the system prompt
	describer    DirectoryDescriber
	workingDir   string
	directories  []string
	sessionID    string
	messages     []Message

	// InterruptRequested is checked by the pipeline and the tool engine
	// to abort a turn in progress. Acquire/release semantics via atomic.
	InterruptRequested atomic.Bool
}

// NewState builds a conversation anchored at workingDir, with the system
// prompt assembled immediately.
func NewState(model, sessionID, workingDir string, describer DirectoryDescriber) *State {
	s := &State{
		model:      model,
		describer:  describer,
		workingDir: workingDir,
		sessionID:  sessionID,
	}
	s.directories = []string{workingDir}
	s.rebuildSystemPrompt()
	return s
}

// Model returns the target model identifier.
func (s *State) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// SessionID returns the opaque audit-log correlation id.
func (s *State) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// WorkingDir returns the absolute path used to resolve relative tool paths.
func (s *State) WorkingDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workingDir
}

// SetToolPrompt records the tool-description block fed into the system
// prompt, rebuilding it immediately.
func (s *State) SetToolPrompt(toolPrompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolPrompt = toolPrompt
	s.rebuildSystemPromptLocked()
}

// SetUserContext records user-supplied context appended to the system
// prompt (e.g. project conventions), rebuilding it immediately.
func (s *State) SetUserContext(userContext string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userContext = userContext
	s.rebuildSystemPromptLocked()
}

// Messages returns a snapshot copy of the message log.
func (s *State) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// AppendUser appends a user message containing a single text block.
func (s *State) AppendUser(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, NewTextMessage(RoleUser, text))
}

// AppendAssistant appends an assistant message (text and/or tool calls).
func (s *State) AppendAssistant(msg Message) {
	msg.Role = RoleAssistant
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// AppendToolResults appends one tool-result message carrying every
// result for the immediately preceding assistant turn's tool calls, in
// the order the calls were declared. Every ToolCall must be answered by
// exactly one ToolResult before the next assistant or user message.
func (s *State) AppendToolResults(results []ToolResultInput) {
	blocks := make([]ContentBlock, len(results))
	for i, r := range results {
		blocks[i] = NewToolResultBlock(r.ToolID, r.ToolName, r.Output, r.IsError)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Role: RoleToolResult, Contents: blocks})
}

// Clear drops every message but the system message, as required for
// `/clear`: the log resets to [system_prompt].
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.rebuildSystemPromptLocked()
}

// AddDirectory adds a path to the working set. The system prompt is
// rebuilt immediately, picking up the new directory's contribution.
func (s *State) AddDirectory(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.directories {
		if d == path {
			return
		}
	}
	s.directories = append(s.directories, path)
	s.rebuildSystemPromptLocked()
}

// Directories returns the current working set, in the order added.
func (s *State) Directories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.directories))
	copy(out, s.directories)
	return out
}

// rebuildSystemPromptLocked replaces messages[0] (or inserts it) with a
// freshly assembled system message. Callers must hold s.mu.
func (s *State) rebuildSystemPromptLocked() {
	var b strings.Builder
	fmt.Fprintf(&b, "Working directories:\n")
	for _, d := range s.directories {
		fmt.Fprintf(&b, "  - %s\n", d)
		if s.describer != nil {
			if desc := s.describer.Describe(d); desc != "" {
				b.WriteString(desc)
				b.WriteString("\n")
			}
		}
	}
	if s.toolPrompt != "" {
		b.WriteString("\nAvailable tools:\n")
		b.WriteString(s.toolPrompt)
	}
	if s.userContext != "" {
		b.WriteString("\nContext:\n")
		b.WriteString(s.userContext)
	}

	sys := NewTextMessage(RoleSystem, b.String())
	if len(s.messages) == 0 {
		s.messages = []Message{sys}
		return
	}
	if s.messages[0].Role == RoleSystem {
		s.messages[0] = sys
		return
	}
	s.messages = append([]Message{sys}, s.messages...)
}

func (s *State) rebuildSystemPrompt() {
	s.rebuildSystemPromptLocked()
}
