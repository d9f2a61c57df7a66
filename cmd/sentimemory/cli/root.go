package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	home    string
	verbose bool
	json    bool
}

const rootLongDesc = `Sentimemory is a persona chat agent with long-term memory.

Recent turns are kept in a bounded conversation buffer. When the buffer fills,
the oldest turns are handed to the model, which extracts the facts worth
keeping into a persona-scoped memory store. Relevant memories are added back
into the context of every reply.

Data lives in --home, $SENTIMEMORY_HOME or ~/.sentimemory.`

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "sentimemory",
		Short:         "Persona chat agent with long-term memory",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.home, "home", "", "Data directory")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "JSON output and logs")

	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newMemoryCmd(opts))
	cmd.AddCommand(newPersonaCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newSessionCmd(opts))
	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
