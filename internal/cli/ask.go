package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faqbot/console/internal/console"
)

func (a *app) askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <botID> <question>",
		Short: "Ask a bot a question",
		Args:  cobra.MinimumNArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			id, err := argInt(args, 0, "botID")
			if err != nil {
				return err
			}
			entry, err := con.Ask(cmd.Context(), id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), entry, func(w io.Writer) {
				r := entry.Result
				fmt.Fprintln(w, r.Answer)
				fmt.Fprintf(w, "\nConfidence: %s", percent(r.Confidence))
				if r.SourceURL != "" {
					fmt.Fprintf(w, "  Source: %s", r.SourceURL)
				}
				fmt.Fprintf(w, "  (%dms)\n", entry.Latency.Milliseconds())
			})
		}),
	}
}
