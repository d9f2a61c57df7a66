package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/sentimemory/internal/memory"
	"github.com/felixgeelhaar/sentimemory/internal/observe"
	"github.com/felixgeelhaar/sentimemory/internal/persona"
)

const defaultResponseStyle = "friendly"

// Assembler builds the persona and memory block that prefixes every reply
// request. It never calls the model.
type Assembler struct {
	store    memory.Store
	personas persona.Provider
	limit    int
	obs      *observe.Observer
	metrics  *observe.Metrics
}

// NewAssembler creates an Assembler that includes up to limit records. A
// limit <= 0 selects memory.DefaultContextLimit.
func NewAssembler(s memory.Store, personas persona.Provider, limit int, obs *observe.Observer) *Assembler {
	if limit <= 0 {
		limit = memory.DefaultContextLimit
	}
	if obs == nil {
		obs = observe.Nop()
	}
	return &Assembler{store: s, personas: personas, limit: limit, obs: obs}
}

// BuildContext renders, separated by blank lines: the persona's name, traits,
// response style and background, then the top-ranked records for personaID.
// The memory section is left out when there are no records or the store
// fails. userInput is only logged.
func (a *Assembler) BuildContext(ctx context.Context, userInput, personaID string) string {
	ctx, span := a.obs.StartSpan(ctx, "runtime.BuildContext")
	defer span.End()

	p, err := a.personas.Persona(personaID)
	if err != nil {
		a.obs.Log().Warn().Str("persona", personaID).Err(err).Msg("persona not found, using id as name")
		p = persona.Persona{ID: personaID, Name: personaID}
	}

	style := p.ResponseStyle
	if style == "" {
		style = defaultResponseStyle
	}
	parts := []string{
		"Persona: " + p.Name,
		"Traits: " + strings.Join(p.Traits, ", "),
		"Response style: " + style,
	}
	if p.Background != "" {
		parts = append(parts, "Background: "+p.Background)
	}

	records, err := a.store.List(ctx, personaID, a.limit)
	if err != nil {
		a.metrics.ObserveStoreError("list")
		a.obs.Log().Error().Str("persona", personaID).Err(err).Msg("failed to load memories for context")
		records = nil
	}
	if len(records) > 0 {
		lines := make([]string, len(records))
		for i, r := range records {
			lines[i] = r.Format()
		}
		parts = append(parts, "Relevant memories:\n"+strings.Join(lines, "\n"))
	}

	out := strings.Join(parts, "\n\n")
	a.obs.Log().Debug().
		Str("persona", personaID).
		Int("memories", len(records)).
		Int("input_len", len(userInput)).
		Int("context_len", len(out)).
		Msg("context built")
	return out
}

// replyInstruction wraps an assembled context into the system prompt of a
// reply request.
func replyInstruction(p persona.Persona, context string) string {
	var sb strings.Builder
	if p.SystemPrompt != "" {
		sb.WriteString(p.SystemPrompt)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "You are an AI companion with the following persona:\n%s\n\n", context)
	sb.WriteString("Reply to the user in a way that fits this persona, drawing on the information and conversation history above. Keep the conversation coherent and personal.")
	return sb.String()
}
