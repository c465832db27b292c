// Package tui is the UI side of the application: a Bubbletea tea.Model
// whose Update drains the UI queue. It never reads conversation state
// directly; everything it knows about a turn arrives as a
// queue.UIMessage.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/nmnduy/claude-c-sub003/internal/application"
	"github.com/nmnduy/claude-c-sub003/internal/queue"
)

var (
	colorCyan   = lipgloss.Color("#56C2E6")
	colorGreen  = lipgloss.Color("#73C991")
	colorYellow = lipgloss.Color("#E6C656")
	colorRed    = lipgloss.Color("#E65656")
	colorGray   = lipgloss.Color("#6C7280")

	statusStyle = lipgloss.NewStyle().Foreground(colorGray).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	promptStyle = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(colorGray)
)

// uiMsg wraps one queue.UIMessage for tea.Msg delivery.
type uiMsg queue.UIMessage

// uiClosed signals that the UI queue was shut down and fully drained.
type uiClosed struct{}

// Model is the Bubbletea model driving the terminal session. One
// instance per process; the worker goroutine never touches it; all
// communication flows through app.UI and app.Instructions.
type Model struct {
	app      *application.App
	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer

	lines    []string
	status   string
	busy     bool
	width    int
	height   int
	quitting bool
}

// New builds the TUI model bound to app. Call tea.NewProgram(New(app)).Run().
func New(app *application.App) *Model {
	ti := textinput.New()
	ti.Placeholder = "Ask for anything, or /help for commands"
	ti.Focus()
	ti.Prompt = "❯ "
	ti.PromptStyle = promptStyle

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorCyan)

	renderer, _ := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))

	return &Model{
		app:      app,
		viewport: viewport.New(80, 20),
		input:    ti,
		spin:     sp,
		renderer: renderer,
	}
}

// Init starts the spinner ticker and the UI-queue drain loop.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForUIMessage(m.app.UI))
}

// waitForUIMessage blocks on the UI queue's Wait and returns the next
// frame's message; re-issued after every Update so draining never
// stalls behind the event loop.
func waitForUIMessage(q *queue.UIQueue) tea.Cmd {
	return func() tea.Msg {
		msg, ok := q.Wait()
		if !ok {
			return uiClosed{}
		}
		return uiMsg(msg)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 3
		m.input.Width = msg.Width - 2
		m.renderViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quitting = true
			m.app.Stop()
			return m, tea.Quit
		case tea.KeyEsc:
			m.app.Interrupt()
			return m, nil
		case tea.KeyEnter:
			return m.submit()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case uiMsg:
		m.handleUIMessage(queue.UIMessage(msg))
		return m, waitForUIMessage(m.app.UI)

	case uiClosed:
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleUIMessage applies one worker→UI update to the transcript.
func (m *Model) handleUIMessage(msg queue.UIMessage) {
	switch msg.Tag {
	case queue.TagAddLine:
		m.busy = false
		rendered := msg.Payload
		if m.renderer != nil {
			if out, err := m.renderer.Render(msg.Payload); err == nil {
				rendered = strings.TrimRight(out, "\n")
			}
		}
		m.lines = append(m.lines, rendered)
		m.status = ""
	case queue.TagStatus:
		m.busy = true
		m.status = msg.Payload
	case queue.TagError:
		m.busy = false
		m.lines = append(m.lines, errorStyle.Render("✗ "+msg.Payload))
		m.status = ""
	case queue.TagClear:
		m.lines = nil
		m.status = ""
	case queue.TagTodoUpdate:
		m.lines = append(m.lines, statusStyle.Render(msg.Payload))
	}
	m.renderViewport()
}

func (m *Model) renderViewport() {
	m.viewport.SetContent(strings.Join(m.lines, "\n\n"))
	m.viewport.GotoBottom()
}

// submit handles Enter: either a slash command or a user instruction
// enqueued to the worker.
func (m *Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if text == "" {
		return m, nil
	}

	if strings.HasPrefix(text, "/") {
		return m.runSlashCommand(text)
	}

	m.lines = append(m.lines, promptStyle.Render("❯ ")+text)
	m.renderViewport()

	if err := m.app.Submit(text); err != nil {
		m.lines = append(m.lines, errorStyle.Render("✗ "+err.Error()))
		m.renderViewport()
	}
	return m, nil
}

// runSlashCommand implements the slash-command surface: /exit, /quit,
// /clear, /add-dir, /help, /voice.
func (m *Model) runSlashCommand(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	args := fields[1:]

	switch name {
	case "exit", "quit":
		m.quitting = true
		m.app.Stop()
		return m, tea.Quit

	case "clear":
		m.app.State.Clear()
		m.lines = nil
		m.renderViewport()
		return m, nil

	case "add-dir":
		if len(args) == 0 {
			m.lines = append(m.lines, errorStyle.Render("usage: /add-dir <path>"))
		} else if err := m.app.AddDirectory(args[0]); err != nil {
			m.lines = append(m.lines, errorStyle.Render("✗ "+err.Error()))
		} else {
			m.lines = append(m.lines, statusStyle.Render("added directory "+args[0]))
		}
		m.renderViewport()
		return m, nil

	case "voice":
		m.lines = append(m.lines, statusStyle.Render("voice input is not available in this build"))
		m.renderViewport()
		return m, nil

	case "help":
		m.lines = append(m.lines, helpText())
		m.renderViewport()
		return m, nil

	default:
		m.lines = append(m.lines, errorStyle.Render("unknown command /"+name+", try /help"))
		m.renderViewport()
		return m, nil
	}
}

func helpText() string {
	var b strings.Builder
	b.WriteString(promptStyle.Render("Commands") + "\n")
	rows := [][2]string{
		{"/help", "show this help"},
		{"/clear", "reset the conversation, keeping the system prompt"},
		{"/add-dir <path>", "add a directory to the working set"},
		{"/voice", "voice input (not wired in this build)"},
		{"/exit, /quit", "end the session"},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-18s %s\n", r[0], helpStyle.Render(r[1]))
	}
	return b.String()
}

func (m *Model) View() string {
	if m.quitting {
		return "\n"
	}

	status := ""
	if m.busy {
		status = fmt.Sprintf("%s %s", m.spin.View(), statusStyle.Render(m.status))
	}

	return fmt.Sprintf("%s\n%s\n%s",
		m.viewport.View(),
		status,
		m.input.View(),
	)
}

// Run starts the worker goroutine and the Bubbletea program, blocking
// until the user exits with /exit, /quit, or Ctrl+C.
func Run(ctx context.Context, app *application.App) error {
	app.Start(ctx)
	p := tea.NewProgram(New(app), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
