package ui

import (
	"fmt"
	"io"

	"github.com/felixgeelhaar/sentimemory/internal/conversation"
	"github.com/felixgeelhaar/sentimemory/internal/runtime"
)

// UI renders a chat session.
type UI interface {
	ShowTurn(t conversation.Turn)
	UpdateStatus(status string)
	Log(msg string)
}

type SilentUI struct{}

func (s SilentUI) ShowTurn(t conversation.Turn) {}
func (s SilentUI) UpdateStatus(status string)   {}
func (s SilentUI) Log(msg string)               {}

// Attach forwards engine events to u.
func Attach(bus *runtime.EventBus, u UI) {
	bus.Subscribe(runtime.EventTurnAppended, func(e runtime.Event) {
		role, _ := e.Data["role"].(string)
		content, _ := e.Data["content"].(string)
		u.ShowTurn(conversation.Turn{Role: conversation.Role(role), Content: content, CreatedAt: e.Timestamp})
	})
	bus.Subscribe(runtime.EventTurnsEvicted, func(e runtime.Event) {
		u.Log(fmt.Sprintf("%v turns moved to memory", e.Data["turns"]))
	})
	bus.Subscribe(runtime.EventPersonaSwitched, func(e runtime.Event) {
		u.UpdateStatus("persona: " + e.Persona)
	})
	bus.Subscribe(runtime.EventSessionReset, func(e runtime.Event) {
		u.UpdateStatus("conversation reset")
	})
	bus.Subscribe(runtime.EventReplyFailed, func(e runtime.Event) {
		u.Log(fmt.Sprintf("reply failed: %v", e.Data["error"]))
	})
}

// Writer prints agent and system turns as plain lines. User turns are not
// echoed since the terminal already shows them.
type Writer struct {
	Out     io.Writer
	Verbose bool
}

func (w Writer) ShowTurn(t conversation.Turn) {
	switch t.Role {
	case conversation.RoleAgent:
		fmt.Fprintf(w.Out, "agent> %s\n", t.Content)
	case conversation.RoleSystem:
		fmt.Fprintf(w.Out, "* %s\n", t.Content)
	}
}

func (w Writer) UpdateStatus(status string) {
	fmt.Fprintf(w.Out, "[%s]\n", status)
}

func (w Writer) Log(msg string) {
	if w.Verbose {
		fmt.Fprintf(w.Out, "  (%s)\n", msg)
	}
}
