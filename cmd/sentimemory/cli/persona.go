package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPersonaCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Inspect the available personas",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List built-in and file-defined personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := openWorkspace(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer w.Close()

			list := w.personas.List()
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTRAITS\tDESCRIPTION")
			for _, p := range list {
				id := p.ID
				if id == w.settings.DefaultPersona {
					id += " *"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, p.Name, strings.Join(p.Traits, ", "), p.Description)
			}
			return tw.Flush()
		},
	})
	return cmd
}
