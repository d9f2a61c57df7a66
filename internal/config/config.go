// Package config resolves runtime settings from the key/value configuration
// table, falling back to defaults for unset keys.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/conversation"
	"github.com/felixgeelhaar/sentimemory/internal/credential"
	"github.com/felixgeelhaar/sentimemory/internal/guard"
	"github.com/felixgeelhaar/sentimemory/internal/memory"
	"github.com/felixgeelhaar/sentimemory/internal/persona"
	"github.com/felixgeelhaar/sentimemory/internal/provider"
)

// Configuration keys.
const (
	KeyMaxTurns        = "buffer.max_turns"
	KeyEvictBatch      = "buffer.evict_batch"
	KeyProvider        = "ai.provider"
	KeyModel           = "ai.model"
	KeyResponseTimeout = "ai.response_timeout"
	KeyBaseURL         = "ai.base_url"
	KeyContextLimit    = "memory.context_limit"
	KeyListLimit       = "memory.list_limit"
	KeySummaryRecent   = "memory.summary_recent"
	KeyKeywordFallback = "memory.keyword_fallback"
	KeyHistoryWindow   = "chat.history_window"
	KeyDefaultPersona  = "persona.default"
	KeyPersonaDir      = "persona.dir"
	KeyStoreDSN        = "store.dsn"
	KeyCLIPath         = "provider.cli.path"
	KeyPluginPath      = "provider.plugin.path"
	KeyMaxInputChars   = "guard.max_input_chars"
	KeyMaxReplies      = "guard.max_replies"
	KeyMaxPromptTokens = "guard.max_prompt_tokens"
	KeyMaxOutputTokens = "guard.max_output_tokens"
)

// Keys lists the recognised setting keys in display order. Credential keys of
// the form "<provider>.api_key" are accepted as well.
func Keys() []string {
	return []string{
		KeyProvider, KeyModel, KeyBaseURL, KeyResponseTimeout,
		KeyCLIPath, KeyPluginPath,
		KeyMaxTurns, KeyEvictBatch, KeyHistoryWindow,
		KeyContextLimit, KeyListLimit, KeySummaryRecent, KeyKeywordFallback,
		KeyDefaultPersona, KeyPersonaDir, KeyStoreDSN,
		KeyMaxInputChars, KeyMaxReplies, KeyMaxPromptTokens, KeyMaxOutputTokens,
	}
}

// IsKnownKey reports whether key can be set.
func IsKnownKey(key string) bool {
	if credential.IsSecretKey(key) {
		return true
	}
	return slices.Contains(Keys(), key)
}

// DefaultHistoryWindow is how many recent turns accompany a reply request.
const DefaultHistoryWindow = 20

// Getter reads raw configuration values. Unset keys read as "".
type Getter interface {
	GetConfig(key string) (string, error)
}

// Settings is the resolved configuration.
type Settings struct {
	MaxTurns        int
	EvictBatch      int
	Provider        string
	Model           string
	ResponseTimeout time.Duration
	BaseURL         string
	APIKey          string
	CLIPath         string
	PluginPath      string
	ContextLimit    int
	ListLimit       int
	SummaryRecent   int
	KeywordFallback bool
	HistoryWindow   int
	DefaultPersona  string
	PersonaDir      string
	StoreDSN        string
	Limits          guard.Policy
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		MaxTurns:        conversation.DefaultMaxTurns,
		EvictBatch:      conversation.DefaultEvictBatch,
		Provider:        "ollama",
		ResponseTimeout: provider.DefaultTimeout,
		ContextLimit:    memory.DefaultContextLimit,
		ListLimit:       memory.DefaultListLimit,
		SummaryRecent:   memory.DefaultSummaryRecent,
		HistoryWindow:   DefaultHistoryWindow,
		DefaultPersona:  persona.DefaultID,
		PersonaDir:      defaultPersonaDir(),
		Limits:          guard.DefaultPolicy,
	}
}

func defaultPersonaDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sentimemory", "personas")
}

// Load resolves settings from g. The API key is read from
// "<provider>.api_key" after the provider is known.
func Load(g Getter) (Settings, error) {
	s := Defaults()
	r := reader{g: g}

	r.int(KeyMaxTurns, &s.MaxTurns)
	r.int(KeyEvictBatch, &s.EvictBatch)
	r.str(KeyProvider, &s.Provider)
	r.str(KeyModel, &s.Model)
	r.duration(KeyResponseTimeout, &s.ResponseTimeout)
	r.str(KeyBaseURL, &s.BaseURL)
	r.str(KeyCLIPath, &s.CLIPath)
	r.str(KeyPluginPath, &s.PluginPath)
	r.int(KeyContextLimit, &s.ContextLimit)
	r.int(KeyListLimit, &s.ListLimit)
	r.int(KeySummaryRecent, &s.SummaryRecent)
	r.bool(KeyKeywordFallback, &s.KeywordFallback)
	r.int(KeyHistoryWindow, &s.HistoryWindow)
	r.str(KeyDefaultPersona, &s.DefaultPersona)
	r.str(KeyPersonaDir, &s.PersonaDir)
	r.str(KeyStoreDSN, &s.StoreDSN)
	r.int(KeyMaxInputChars, &s.Limits.MaxInputChars)
	r.int(KeyMaxReplies, &s.Limits.MaxReplies)
	r.int(KeyMaxPromptTokens, &s.Limits.MaxPromptTokens)
	r.int(KeyMaxOutputTokens, &s.Limits.MaxOutputTokens)
	r.str(s.Provider+".api_key", &s.APIKey)

	if err := errors.Join(r.errs...); err != nil {
		return s, err
	}
	return s, s.Validate()
}

// Validate checks cross-field constraints.
func (s Settings) Validate() error {
	var errs []error
	if s.MaxTurns < 2 {
		errs = append(errs, fmt.Errorf("%s must be at least 2, got %d", KeyMaxTurns, s.MaxTurns))
	}
	if s.EvictBatch < 1 || s.EvictBatch >= s.MaxTurns {
		errs = append(errs, fmt.Errorf("%s must be in [1, %s), got %d", KeyEvictBatch, KeyMaxTurns, s.EvictBatch))
	}
	if s.ResponseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyResponseTimeout))
	}
	if s.Provider == "plugin" && s.PluginPath == "" {
		errs = append(errs, fmt.Errorf("%s is required for the plugin provider", KeyPluginPath))
	}
	l := s.Limits
	if s.ContextLimit < 0 || s.ListLimit < 0 || s.SummaryRecent < 0 || s.HistoryWindow < 0 ||
		l.MaxInputChars < 0 || l.MaxReplies < 0 || l.MaxPromptTokens < 0 || l.MaxOutputTokens < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	return errors.Join(errs...)
}

type reader struct {
	g    Getter
	errs []error
}

func (r *reader) raw(key string) (string, bool) {
	v, err := r.g.GetConfig(key)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("read %s: %w", key, err))
		return "", false
	}
	return v, v != ""
}

func (r *reader) str(key string, dst *string) {
	if v, ok := r.raw(key); ok {
		*dst = v
	}
}

func (r *reader) int(key string, dst *int) {
	v, ok := r.raw(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return
	}
	*dst = n
}

func (r *reader) bool(key string, dst *bool) {
	v, ok := r.raw(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return
	}
	*dst = b
}

func (r *reader) duration(key string, dst *time.Duration) {
	v, ok := r.raw(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare numbers are seconds.
		secs, nerr := strconv.Atoi(v)
		if nerr != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %q is not a duration", key, v))
			return
		}
		d = time.Duration(secs) * time.Second
	}
	*dst = d
}
