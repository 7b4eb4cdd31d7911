package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/content"
	"github.com/faqbot/console/internal/models"
)

func (a *app) contentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Manage a bot's question/answer pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		a.contentListCmd(),
		a.contentSearchCmd(),
		a.contentAddCmd(),
		a.contentRemoveCmd(),
		a.contentImportCmd(),
	)
	return cmd
}

func (a *app) contentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <botID>",
		Short: "List every pair with its position",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			return a.showMatches(cmd, con, args[0], "")
		}),
	}
}

func (a *app) contentSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <botID> <text>",
		Short: "Find pairs whose question or answer contains text",
		Args:  cobra.MinimumNArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			return a.showMatches(cmd, con, args[0], strings.Join(args[1:], " "))
		}),
	}
}

func (a *app) showMatches(cmd *cobra.Command, con *console.Console, rawID, text string) error {
	id, err := a.knownBot(cmd, con, rawID)
	if err != nil {
		return err
	}
	matches, err := con.Content.Search(cmd.Context(), id, text)
	if err != nil {
		return err
	}
	return a.emit(cmd.OutOrStdout(), matches, func(w io.Writer) {
		if len(matches) == 0 {
			fmt.Fprintln(w, "No pairs found")
			return
		}
		tw := table(w, "#", "QUESTION", "ANSWER", "CONFIDENCE", "SOURCE")
		for _, m := range matches {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
				m.Position, clip(m.Pair.Question, 50), clip(m.Pair.Answer, 60), percent(m.Pair.Confidence), m.Pair.Source)
		}
		tw.Flush()
	})
}

func (a *app) contentAddCmd() *cobra.Command {
	var question, answer string
	cmd := &cobra.Command{
		Use:   "add <botID>",
		Short: "Add a hand-written pair",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			if _, err := content.ValidatePair(question, answer); err != nil {
				return err
			}
			id, err := a.knownBot(cmd, con, args[0])
			if err != nil {
				return err
			}
			pair, _, err := con.Content.Add(cmd.Context(), id, question, answer)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), pair, func(w io.Writer) {
				fmt.Fprintf(w, "%s Added pair to bot %d\n", successColor.Sprint("✓"), id)
			})
		}),
	}
	cmd.Flags().StringVar(&question, "question", "", "Question text")
	cmd.Flags().StringVar(&answer, "answer", "", "Answer text")
	cmd.MarkFlagRequired("question")
	cmd.MarkFlagRequired("answer")
	return cmd
}

func (a *app) contentRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <botID> <position>",
		Short: "Remove the pair at a position; later pairs move up",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			id, err := a.knownBot(cmd, con, args[0])
			if err != nil {
				return err
			}
			pos, err := argInt(args, 1, "position")
			if err != nil {
				return err
			}
			pair, _, err := con.Content.Remove(cmd.Context(), id, pos)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), pair, func(w io.Writer) {
				fmt.Fprintf(w, "%s Removed %q\n", successColor.Sprint("✓"), pair.Question)
			})
		}),
	}
}

func (a *app) contentImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import <botID>",
		Short: "Append scraped pairs from a JSON array file ('-' reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			var r io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var pairs []models.QAPair
			if err := json.NewDecoder(r).Decode(&pairs); err != nil {
				return fmt.Errorf("decoding pairs: %w", err)
			}
			if _, err := content.ValidatePairs(pairs); err != nil {
				return err
			}
			id, err := a.knownBot(cmd, con, args[0])
			if err != nil {
				return err
			}

			n, _, err := con.Content.Import(cmd.Context(), id, pairs)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), map[string]int{"imported": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%s Imported %d pairs into bot %d\n", successColor.Sprint("✓"), n, id)
			})
		}),
	}
	cmd.Flags().StringVar(&file, "file", "-", "JSON file of pairs")
	return cmd
}

// knownBot parses a bot id and checks the registry knows it.
func (a *app) knownBot(cmd *cobra.Command, con *console.Console, raw string) (int, error) {
	id, err := argInt([]string{raw}, 0, "botID")
	if err != nil {
		return 0, err
	}
	if _, err := con.Bot(cmd.Context(), id); err != nil {
		return 0, err
	}
	return id, nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
