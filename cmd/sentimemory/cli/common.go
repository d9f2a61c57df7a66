package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/sentimemory/internal/config"
	"github.com/felixgeelhaar/sentimemory/internal/credential"
	"github.com/felixgeelhaar/sentimemory/internal/observe"
	"github.com/felixgeelhaar/sentimemory/internal/persona"
	"github.com/felixgeelhaar/sentimemory/internal/plugin"
	"github.com/felixgeelhaar/sentimemory/internal/provider"
	"github.com/felixgeelhaar/sentimemory/internal/store"
)

// HomeEnv overrides the default data directory.
const HomeEnv = "SENTIMEMORY_HOME"

func (o *globalOptions) dataDir() (string, error) {
	if o.home != "" {
		return o.home, nil
	}
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".sentimemory"), nil
}

func (o *globalOptions) observer(out io.Writer) *observe.Observer {
	if o.json {
		return observe.NewJSON(out, o.verbose)
	}
	return observe.New(out, o.verbose)
}

// getStore opens the local store in the data directory.
func getStore(opts *globalOptions) (*store.SQLiteStore, error) {
	dir, err := opts.dataDir()
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(
		filepath.Join(dir, "metadata.db"),
		filepath.Join(dir, "artifacts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	return s, nil
}

// configView reads and writes configuration with credentials encrypted.
func configView(s store.Storage) (*credential.Config, error) {
	mgr, err := credential.NewManager()
	if err != nil {
		return nil, fmt.Errorf("init credential manager: %w", err)
	}
	return credential.NewConfig(s, mgr), nil
}

// workspace is what most commands need from the data directory.
type workspace struct {
	obs      *observe.Observer
	local    *store.SQLiteStore
	config   *credential.Config
	settings config.Settings
	memories store.MemoryBackend
	personas *persona.Registry
}

func openWorkspace(ctx context.Context, opts *globalOptions, logs io.Writer) (*workspace, error) {
	w := &workspace{obs: opts.observer(logs)}

	s, err := getStore(opts)
	if err != nil {
		return nil, err
	}
	w.local = s

	if w.config, err = configView(s); err != nil {
		w.Close()
		return nil, err
	}
	if w.settings, err = config.Load(w.config); err != nil {
		w.Close()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if w.memories, err = store.OpenMemoryStore(ctx, w.settings.StoreDSN, s); err != nil {
		w.Close()
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	w.personas = persona.NewRegistry()
	if err := persona.Reload(w.settings.PersonaDir, w.personas); err != nil {
		w.Close()
		return nil, fmt.Errorf("load personas: %w", err)
	}
	return w, nil
}

func (w *workspace) Close() {
	if w.memories != nil {
		if err := w.memories.Close(); err != nil {
			w.obs.Log().Warn().Err(err).Msg("failed to close memory store")
		}
	}
	if w.local != nil {
		if err := w.local.Close(); err != nil {
			w.obs.Log().Warn().Err(err).Msg("failed to close store")
		}
	}
	_ = w.obs.Close()
}

// personaFlag resolves the --persona value against the registry.
func (w *workspace) personaFlag(id string) (string, error) {
	if id == "" {
		id = w.settings.DefaultPersona
	}
	if _, err := w.personas.Persona(id); err != nil {
		return "", err
	}
	return id, nil
}

// buildProvider constructs the provider named by the settings. The returned
// cleanup must be called once the provider is no longer used.
func buildProvider(s config.Settings, obs *observe.Observer) (provider.Provider, func(), error) {
	if s.APIKey != "" {
		obs.Log().Debug().Str("provider", s.Provider).Str("api_key", credential.MaskSecret(s.APIKey)).Msg("using stored credential")
	}
	if s.Provider == "plugin" {
		obs.Log().Info().Str("path", s.PluginPath).Msg("launching provider plugin")
		return plugin.Launch(s.PluginPath)
	}

	p, err := provider.New(s.Provider, provider.Options{
		APIKey:  s.APIKey,
		BaseURL: s.BaseURL,
		Model:   s.Model,
		CLIPath: s.CLIPath,
	})
	if err != nil {
		return nil, nil, err
	}
	return p, func() {}, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
