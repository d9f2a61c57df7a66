package memory

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/conversation"
	"github.com/felixgeelhaar/sentimemory/internal/observe"
	"github.com/felixgeelhaar/sentimemory/internal/provider"
)

// DiagnosticSink keeps raw extraction responses that could not be parsed.
type DiagnosticSink interface {
	SaveExtractionFailure(ctx context.Context, persona, raw string, cause error) error
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithTimeout bounds each extraction request.
func WithTimeout(d time.Duration) ExtractorOption {
	return func(e *Extractor) { e.timeout = d }
}

func WithObserver(o *observe.Observer) ExtractorOption {
	return func(e *Extractor) {
		if o != nil {
			e.obs = o
		}
	}
}

func WithMetrics(m *observe.Metrics) ExtractorOption {
	return func(e *Extractor) { e.metrics = m }
}

// WithMaxTokens caps the length of extraction responses. By default the
// cap and the temperature are left to the model; a non-positive n keeps
// that.
func WithMaxTokens(n int) ExtractorOption {
	return func(e *Extractor) { e.maxTokens = n }
}

// WithDiagnostics retains raw responses of failed parses in sink.
func WithDiagnostics(sink DiagnosticSink) ExtractorOption {
	return func(e *Extractor) { e.diagnostics = sink }
}

// WithKeywordFallback enables the degraded mode: when a response cannot be
// parsed, records are derived from user turns by phrase matching. Such
// records carry SourceKeyword and the HeuristicTag.
func WithKeywordFallback(enabled bool) ExtractorOption {
	return func(e *Extractor) { e.keywordFallback = enabled }
}

// Extractor distills memory records from conversation turns with a
// generative-text provider and files them in a Store. It implements
// conversation.Evictor.
type Extractor struct {
	provider        provider.Provider
	store           Store
	timeout         time.Duration
	obs             *observe.Observer
	metrics         *observe.Metrics
	diagnostics     DiagnosticSink
	keywordFallback bool
	maxTokens       int
	now             func() time.Time
}

var _ conversation.Evictor = (*Extractor)(nil)

func NewExtractor(p provider.Provider, s Store, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		provider: p,
		store:    s,
		timeout:  provider.DefaultTimeout,
		obs:      observe.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evict extracts memories from turns leaving a conversation buffer.
func (e *Extractor) Evict(ctx context.Context, persona string, turns []conversation.Turn) {
	e.Extract(ctx, turns, persona)
}

// Extract derives records from turns, stores each under persona and returns
// the ones that were stored. It never fails: provider, parse and storage
// errors are logged and yield fewer (or no) records.
func (e *Extractor) Extract(ctx context.Context, turns []conversation.Turn, persona string) []Record {
	if len(turns) == 0 {
		return []Record{}
	}

	ctx, span := e.obs.StartSpan(ctx, "memory.Extract")
	defer span.End()

	log := e.obs.Log()
	start := time.Now()

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: extractionPrompt},
		{Role: provider.RoleUser, Content: transcriptPreamble + RenderTranscript(turns)},
	}

	raw, _, err := provider.Complete(ctx, e.provider, messages, e.timeout,
		provider.WithModelDefaults(), provider.WithMaxTokens(e.maxTokens))
	if err != nil {
		log.Warn().
			Str("persona", persona).
			Int("turns", len(turns)).
			Err(err).
			Msg("memory extraction request failed")
		e.metrics.ObserveExtraction(observe.OutcomeProviderError, time.Since(start), 0)
		return []Record{}
	}

	candidates, err := ParseRecords(raw)
	if err != nil {
		log.Warn().
			Str("persona", persona).
			Int("turns", len(turns)).
			Str("raw", raw).
			Err(err).
			Msg("memory extraction response unparseable")
		e.saveDiagnostics(ctx, persona, raw, err)
		if !e.keywordFallback {
			e.metrics.ObserveExtraction(observe.OutcomeParseError, time.Since(start), 0)
			return []Record{}
		}
		candidates = KeywordRecords(turns)
	}

	stored := e.persist(ctx, persona, candidates)

	outcome := observe.OutcomeOK
	switch {
	case err != nil:
		outcome = observe.OutcomeParseError
	case len(candidates) == 0:
		outcome = observe.OutcomeEmpty
	}
	e.metrics.ObserveExtraction(outcome, time.Since(start), len(stored))

	log.Info().
		Str("persona", persona).
		Int("turns", len(turns)).
		Int("records", len(stored)).
		Msg("memory extraction complete")

	return stored
}

// persist inserts each candidate independently so one failure does not block
// the rest.
func (e *Extractor) persist(ctx context.Context, persona string, candidates []Record) []Record {
	stored := make([]Record, 0, len(candidates))
	now := e.now()
	for _, r := range candidates {
		r.Persona = persona
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		id, err := e.store.Add(ctx, persona, r)
		if err != nil {
			e.obs.Log().Error().
				Str("persona", persona).
				Str("content", r.Content).
				Err(err).
				Msg("failed to store extracted memory")
			e.metrics.ObserveStoreError("add")
			continue
		}
		r.ID = id
		stored = append(stored, r.Normalize())
	}
	return stored
}

func (e *Extractor) saveDiagnostics(ctx context.Context, persona, raw string, cause error) {
	if e.diagnostics == nil {
		return
	}
	if err := e.diagnostics.SaveExtractionFailure(ctx, persona, raw, cause); err != nil && !errors.Is(err, context.Canceled) {
		e.obs.Log().Warn().Str("persona", persona).Err(err).Msg("failed to keep raw extraction response")
	}
}
