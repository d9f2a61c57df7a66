package provider

import (
	"fmt"
	"os/exec"
)

// Options carries what the factory needs to build any provider.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	// CLIPath is the agent binary for the "cli" kind. Empty means auto-detect.
	CLIPath string
}

// New builds the provider named by kind.
func New(kind string, opts Options) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch kind {
	case "openai":
		p, err = asProvider(NewOpenAIProvider(opts.APIKey, opts.BaseURL, opts.Model))
	case "anthropic":
		var ap *AnthropicProvider
		if ap, err = NewAnthropicProvider(opts.APIKey, opts.Model); err == nil {
			if opts.BaseURL != "" {
				ap.SetBaseURL(opts.BaseURL)
			}
			p = ap
		}
	case "gemini":
		p, err = asProvider(NewGeminiProvider(opts.APIKey, opts.Model))
	case "ollama", "":
		p, err = asProvider(NewOllamaProvider(opts.BaseURL, opts.Model))
	case "cli":
		path := opts.CLIPath
		if path == "" {
			if path, err = DetectCLI(); err != nil {
				return nil, err
			}
		}
		p, err = asProvider(NewCLIProvider(path, nil))
	case "stub":
		p = NewStubProvider()
	default:
		return nil, fmt.Errorf("unknown provider %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s provider: %w", kind, err)
	}
	return p, nil
}

// asProvider drops typed nil pointers so a failed constructor never yields a
// non-nil interface.
func asProvider[T Provider](p T, err error) (Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DetectCLI looks for a known agent binary on PATH.
func DetectCLI() (string, error) {
	tools := []string{"claude", "codex", "gemini", "llm"}
	for _, t := range tools {
		if path, err := exec.LookPath(t); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no local CLI agents detected (tried claude, codex, gemini, llm)")
}
