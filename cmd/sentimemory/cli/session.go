package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSessionCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect past chat sessions",
	}
	cmd.AddCommand(newSessionListCmd(opts))
	cmd.AddCommand(newSessionArtifactsCmd(opts))
	return cmd
}

func newSessionListCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := getStore(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			sessions, err := s.ListSessions(limit)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions yet.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPERSONA\tSTATUS\tTURNS\tEVICTED\tUPDATED")
			for _, sess := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					sess.ID, sess.Persona, sess.Status,
					orDash(sess.Metadata["turns"]), orDash(sess.Metadata["evicted_turns"]),
					sess.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to show")
	return cmd
}

func newSessionArtifactsCmd(opts *globalOptions) *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "artifacts <session-id>",
		Short: "List diagnostic artifacts saved during a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			artifacts, err := s.ListArtifacts(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return writeJSON(out, artifacts)
			}
			if len(artifacts) == 0 {
				fmt.Fprintln(out, "No artifacts for this session.")
				return nil
			}
			for _, a := range artifacts {
				fmt.Fprintf(out, "%s  %s  %s  %s\n", a.ID, a.Type, a.CreatedAt.Local().Format(time.DateTime), a.Path)
				if !show {
					continue
				}
				_, content, err := s.GetArtifact(a.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\n\n", content)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "Print artifact contents")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
