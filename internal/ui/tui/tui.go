package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/sentimemory/internal/conversation"
)

// TUI implements ui.UI on top of a running bubbletea program.
type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) ShowTurn(turn conversation.Turn) {
	t.program.Send(TurnMsg(turn))
}

func (t *TUI) UpdateStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	systemStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#888888"))

	logStyle = lipgloss.NewStyle().
			Faint(true)
)

// Submit handles one line of input, typically by sending it to the engine.
// It runs off the UI goroutine and reports whether the session should end.
type Submit func(input string) (quit bool)

type TurnMsg conversation.Turn
type StatusMsg string
type LogMsg string

type submitDoneMsg struct{ quit bool }

// chromeHeight is the number of rows outside the viewport.
const chromeHeight = 5

type Model struct {
	Title    string
	Persona  string
	Status   string
	Lines    []string
	Input    textinput.Model
	Viewport viewport.Model
	Spinner  spinner.Model
	Busy     bool
	Quitting bool
	Ready    bool
	Width    int
	Height   int

	submit Submit
}

func NewModel(title, persona string, submit Submit) Model {
	in := textinput.New()
	in.Placeholder = "Say something, or /reset, /persona <id>, /memories, /quit"
	in.Prompt = "you> "
	in.CharLimit = 2000
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		Title:   title,
		Persona: persona,
		Status:  "ready",
		Input:   in,
		Spinner: sp,
		submit:  submit,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.Quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.Input.Value())
			if text == "" || m.Busy {
				return m, nil
			}
			m.Input.SetValue("")
			m.Busy = true
			m.Status = "thinking"
			submit := m.submit
			cmds = append(cmds, m.Spinner.Tick, func() tea.Msg {
				return submitDoneMsg{quit: submit(text)}
			})
			return m, tea.Batch(cmds...)
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		if !m.Ready {
			m.Viewport = viewport.New(msg.Width, msg.Height-chromeHeight)
			m.Ready = true
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = msg.Height - chromeHeight
		}
		m.Input.Width = msg.Width - len(m.Input.Prompt) - 1
		m.refresh()

	case TurnMsg:
		m.Lines = append(m.Lines, renderTurn(conversation.Turn(msg)))
		m.refresh()

	case LogMsg:
		m.Lines = append(m.Lines, logStyle.Render("  "+string(msg)))
		m.refresh()

	case StatusMsg:
		m.Status = string(msg)
		if p, ok := strings.CutPrefix(string(msg), "persona: "); ok {
			m.Persona = p
		}

	case submitDoneMsg:
		m.Busy = false
		m.Status = "ready"
		if msg.quit {
			m.Quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.Busy {
			var cmd tea.Cmd
			m.Spinner, cmd = m.Spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	cmds = append(cmds, cmd)
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) refresh() {
	if !m.Ready {
		return
	}
	m.Viewport.SetContent(strings.Join(m.Lines, "\n"))
	m.Viewport.GotoBottom()
}

func renderTurn(t conversation.Turn) string {
	switch t.Role {
	case conversation.RoleUser:
		return userStyle.Render("you") + "  " + t.Content
	case conversation.RoleSystem:
		return systemStyle.Render("* " + t.Content)
	default:
		return infoStyle.Render("agent") + "  " + t.Content
	}
}

func (m Model) View() string {
	if !m.Ready {
		return "\n  Initializing..."
	}

	header := titleStyle.Render(" " + m.Title + " ")
	status := m.Status
	if m.Busy {
		status = m.Spinner.View() + " " + status
	}
	info := infoStyle.Render(fmt.Sprintf(" persona: %s  %s ", m.Persona, status))

	view := fmt.Sprintf("%s%s\n\n%s\n\n%s",
		header, info,
		m.Viewport.View(),
		m.Input.View())

	if m.Quitting {
		return view + "\n  Saving memories and quitting...\n"
	}
	return view
}
