package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/felixgeelhaar/sentimemory/internal/config"
	"github.com/felixgeelhaar/sentimemory/internal/credential"
	"github.com/felixgeelhaar/sentimemory/internal/memory"
	"github.com/felixgeelhaar/sentimemory/internal/observe"
	"github.com/felixgeelhaar/sentimemory/internal/persona"
	"github.com/felixgeelhaar/sentimemory/internal/runtime"
	"github.com/felixgeelhaar/sentimemory/internal/store"
	"github.com/felixgeelhaar/sentimemory/internal/ui"
	"github.com/felixgeelhaar/sentimemory/internal/ui/tui"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const chatLongDesc = `Start a conversation with a persona.

Type a message and press enter. Lines starting with a slash are commands:
  /reset          forget the current conversation (it is saved to memory first)
  /persona <id>   switch to another persona
  /personas       list the available personas
  /memories       summarise what the persona remembers
  /quit           save the conversation to memory and exit

Examples:
  sentimemory chat
  sentimemory chat --persona humorous --provider anthropic
  sentimemory chat -i --metrics-addr :9464`

type chatOptions struct {
	persona     string
	provider    string
	model       string
	interactive bool
	metricsAddr string
	noWatch     bool
}

func newChatCmd(opts *globalOptions) *cobra.Command {
	co := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a persona",
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, opts, co)
		},
	}
	cmd.Flags().StringVarP(&co.persona, "persona", "p", "", "Starting persona (default: persona.default)")
	cmd.Flags().StringVar(&co.provider, "provider", "", "AI provider (ollama, openai, anthropic, gemini, cli, plugin)")
	cmd.Flags().StringVarP(&co.model, "model", "m", "", "Model name (default depends on provider)")
	cmd.Flags().BoolVarP(&co.interactive, "interactive", "i", false, "Start interactive TUI")
	cmd.Flags().StringVar(&co.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&co.noWatch, "no-watch", false, "Do not reload persona files when they change")
	return cmd
}

func runChat(cmd *cobra.Command, opts *globalOptions, co *chatOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	w, err := openWorkspace(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer w.Close()

	settings, err := applyChatFlags(w, co)
	if err != nil {
		return err
	}
	personaID, err := w.personaFlag(co.persona)
	if err != nil {
		return err
	}

	p, cleanup, err := buildProvider(settings, w.obs)
	if err != nil {
		return fmt.Errorf("failed to initialize provider: %w", err)
	}
	defer cleanup()

	reg := prometheus.NewRegistry()
	metrics := observe.NewMetrics(reg)
	if co.metricsAddr != "" {
		srv := &http.Server{Addr: co.metricsAddr, Handler: observe.MetricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				w.obs.Log().Error().Err(err).Str("addr", co.metricsAddr).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	if !co.noWatch && dirExists(settings.PersonaDir) {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := persona.Watch(watchCtx, settings.PersonaDir, w.personas, w.obs); err != nil {
				w.obs.Log().Warn().Err(err).Msg("persona watcher stopped")
			}
		}()
	}

	sessionID := uuid.NewString()
	extractor := memory.NewExtractor(p, w.memories,
		memory.WithTimeout(settings.ResponseTimeout),
		memory.WithObserver(w.obs),
		memory.WithMetrics(metrics),
		memory.WithDiagnostics(store.NewDiagnostics(w.local, sessionID)),
		memory.WithKeywordFallback(settings.KeywordFallback),
	)

	engine, err := runtime.NewEngine(runtime.EngineConfig{
		Provider:      p,
		Store:         w.memories,
		Personas:      w.personas,
		Persona:       personaID,
		Evictor:       extractor,
		Sessions:      w.local,
		Observer:      w.obs,
		Metrics:       metrics,
		Limits:        settings.Limits,
		SessionID:     sessionID,
		MaxTurns:      settings.MaxTurns,
		EvictBatch:    settings.EvictBatch,
		HistoryWindow: settings.HistoryWindow,
		ContextLimit:  settings.ContextLimit,
		SummaryRecent: settings.SummaryRecent,
		Timeout:       settings.ResponseTimeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		// The conversation is flushed to memory even after an interrupt.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settings.ResponseTimeout+5*time.Second)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			w.obs.Log().Warn().Err(err).Msg("failed to close session")
		}
	}()

	if co.interactive {
		return runTUI(ctx, engine, w.personas)
	}
	return runREPL(ctx, engine, w.personas, cmd.InOrStdin(), cmd.OutOrStdout(), opts.verbose)
}

// applyChatFlags overlays the command line on the stored settings.
func applyChatFlags(w *workspace, co *chatOptions) (config.Settings, error) {
	s := w.settings
	if co.provider != "" && co.provider != s.Provider {
		s.Provider = co.provider
		key, err := w.config.GetConfig(co.provider + credential.SecretSuffix)
		if err != nil {
			return s, err
		}
		s.APIKey = key
		s.Model = ""
	}
	if co.model != "" {
		s.Model = co.model
	}
	return s, s.Validate()
}

func runREPL(ctx context.Context, e *runtime.Engine, personas *persona.Registry, in io.Reader, out io.Writer, verbose bool) error {
	ui.Attach(e.Bus(), ui.Writer{Out: out, Verbose: verbose})
	fmt.Fprintf(out, "Chatting as %s. Type /quit to exit.\n", e.Persona())

	lines, errc := scanLines(ctx, in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "you> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return <-errc
			}
			if handleLine(ctx, e, personas, out, line) {
				return nil
			}
		}
	}
}

// scanLines reads in line by line on its own goroutine until in is exhausted
// or ctx ends. The read error, if any, is sent on the error channel before
// the line channel closes.
func scanLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				errc <- nil
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

func runTUI(ctx context.Context, e *runtime.Engine, personas *persona.Registry) error {
	var u *tui.TUI
	submit := func(input string) bool {
		return handleLine(ctx, e, personas, logWriter{u}, input)
	}
	program := tea.NewProgram(tui.NewModel("Sentimemory", e.Persona(), submit), tea.WithAltScreen(), tea.WithContext(ctx))
	u = tui.NewTUI(program)
	ui.Attach(e.Bus(), u)

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// handleLine runs one line of user input and reports whether to quit.
func handleLine(ctx context.Context, e *runtime.Engine, personas *persona.Registry, out io.Writer, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		e.Send(ctx, line)
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true
	case "/reset":
		e.Reset(ctx)
	case "/persona":
		if arg == "" {
			fmt.Fprintf(out, "Current persona: %s\n", e.Persona())
			return false
		}
		if err := e.SwitchPersona(ctx, arg); err != nil {
			fmt.Fprintf(out, "Cannot switch persona: %v\n", err)
		}
	case "/personas":
		for _, p := range personas.List() {
			fmt.Fprintf(out, "%s - %s\n", p.ID, p.Name)
		}
	case "/memories":
		sum, err := e.Summary(ctx)
		if err != nil {
			fmt.Fprintf(out, "Cannot read memories: %v\n", err)
			return false
		}
		printSummary(out, e.Persona(), sum)
	default:
		fmt.Fprintf(out, "Unknown command %s\n", name)
	}
	return false
}

// logWriter sends command output to the TUI log pane, one line at a time.
type logWriter struct {
	u ui.UI
}

func (l logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		l.u.Log(line)
	}
	return len(p), nil
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
