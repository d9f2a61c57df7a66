package cli

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/sentimemory/internal/config"
	"github.com/felixgeelhaar/sentimemory/internal/credential"
	"github.com/spf13/cobra"
)

const configLongDesc = `Manage configuration stored in the local database.

Keys ending in .api_key are encrypted at rest and masked when read back.

Examples:
  sentimemory config set ai.provider anthropic
  sentimemory config set anthropic.api_key sk-ant-...
  sentimemory config set buffer.max_turns 40
  sentimemory config get ai.provider
  sentimemory config list`

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  configLongDesc,
	}
	cmd.AddCommand(newConfigSetCmd(opts))
	cmd.AddCommand(newConfigGetCmd(opts))
	cmd.AddCommand(newConfigListCmd(opts))
	return cmd
}

func newConfigSetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if !config.IsKnownKey(key) {
				return fmt.Errorf("unknown config key: %q\n\nValid keys: %s, <provider>%s",
					key, strings.Join(config.Keys(), ", "), credential.SecretSuffix)
			}

			s, err := getStore(opts)
			if err != nil {
				return err
			}
			defer s.Close()
			view, err := configView(s)
			if err != nil {
				return err
			}
			if _, err := config.Load(overlay{Getter: view, key: key, value: value}); err != nil {
				return fmt.Errorf("refusing to set %s: %w", key, err)
			}
			if err := view.SetConfig(key, value); err != nil {
				return fmt.Errorf("failed to set config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", key)
			return nil
		},
	}
}

func newConfigGetCmd(opts *globalOptions) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore(opts)
			if err != nil {
				return err
			}
			defer s.Close()
			view, err := configView(s)
			if err != nil {
				return err
			}
			val, err := view.GetConfig(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case val == "":
				fmt.Fprintln(out, "(not set)")
			case credential.IsSecretKey(args[0]) && !reveal:
				fmt.Fprintln(out, credential.MaskSecret(val))
			default:
				fmt.Fprintln(out, val)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print secrets in clear text")
	return cmd
}

func newConfigListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := getStore(opts)
			if err != nil {
				return err
			}
			defer s.Close()
			view, err := configView(s)
			if err != nil {
				return err
			}
			settings, err := config.Load(view)
			if err != nil {
				return err
			}
			if settings.APIKey != "" {
				settings.APIKey = credential.MaskSecret(settings.APIKey)
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), settings)
			}
			out := cmd.OutOrStdout()
			for _, key := range config.Keys() {
				raw, err := view.GetConfig(key)
				if err != nil {
					return err
				}
				if raw == "" {
					raw = "(default)"
				}
				fmt.Fprintf(out, "%-24s %s\n", key, raw)
			}
			return nil
		},
	}
}

// overlay reads key as value and everything else from Getter.
type overlay struct {
	config.Getter
	key, value string
}

func (o overlay) GetConfig(key string) (string, error) {
	if key == o.key {
		return o.value, nil
	}
	return o.Getter.GetConfig(key)
}
