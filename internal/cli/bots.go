package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/models"
)

func (a *app) botsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "List and manage bots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		a.botsListCmd(),
		a.botsCreateCmd(),
		a.botsGetCmd(),
		a.botsUpdateCmd(),
		a.botsDeleteCmd(),
		a.botsRetrainCmd(),
		a.botsActiveCmd("activate", true),
		a.botsActiveCmd("deactivate", false),
	)
	return cmd
}

func (a *app) botsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bots",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			bots, err := con.Bots.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), bots, func(w io.Writer) {
				if len(bots) == 0 {
					fmt.Fprintln(w, "No bots yet (run 'faqctl bots create')")
					return
				}
				tw := table(w, "ID", "NAME", "STATUS", "CHANNELS", "LANG", "QUERIES", "ACCURACY")
				for _, b := range bots {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
						b.ID, b.Name, statusText(b.Status), channelList(b.Channels), b.Language,
						b.TotalQueries, optionalPercent(b.AccuracyScore))
				}
				tw.Flush()
			})
		}),
	}
}

func (a *app) botsCreateCmd() *cobra.Command {
	var (
		in       models.CreateBotInput
		channels []string
		language string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a bot and start training it",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			in.Channels = toChannels(channels)
			in.Language = models.Language(language)
			bot, inv, err := con.Bots.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			settle(cmd, con, inv)
			return a.emit(cmd.OutOrStdout(), bot, func(w io.Writer) {
				fmt.Fprintf(w, "%s Created bot %d (%s), status %s\n",
					successColor.Sprint("✓"), bot.ID, bot.Name, statusText(bot.Status))
			})
		}),
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "Bot name")
	cmd.Flags().StringVar(&in.SourceURL, "url", "", "Website to learn from")
	cmd.Flags().StringVar(&in.Description, "description", "", "Description")
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "Channel to publish on (repeatable; default telegram)")
	cmd.Flags().StringVar(&language, "language", "", "Answer language (default en)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("url")
	return cmd
}

func (a *app) botsGetCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "get <botID>",
		Short: "Show one bot",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			id, err := argInt(args, 0, "botID")
			if err != nil {
				return err
			}
			var bot models.Bot
			if refresh {
				bot, err = con.Bots.Fetch(cmd.Context(), id)
			} else {
				bot, err = con.Bot(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), bot, func(w io.Writer) {
				printBot(w, bot)
			})
		}),
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Re-read the bot from the backend")
	return cmd
}

func (a *app) botsUpdateCmd() *cobra.Command {
	var (
		name, description, language string
		channels                    []string
	)
	cmd := &cobra.Command{
		Use:   "update <botID>",
		Short: "Change a bot's name, description, channels or language",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			id, err := argInt(args, 0, "botID")
			if err != nil {
				return err
			}
			var u models.BotUpdate
			if cmd.Flags().Changed("name") {
				u.Name = &name
			}
			if cmd.Flags().Changed("description") {
				u.Description = &description
			}
			if cmd.Flags().Changed("channel") {
				u.Channels = toChannels(channels)
			}
			if cmd.Flags().Changed("language") {
				l := models.Language(language)
				u.Language = &l
			}
			if _, err := con.Bot(cmd.Context(), id); err != nil {
				return err
			}

			bot, inv, err := con.Bots.Update(cmd.Context(), id, u)
			if err != nil {
				return err
			}
			settle(cmd, con, inv)
			return a.emit(cmd.OutOrStdout(), bot, func(w io.Writer) {
				printBot(w, bot)
			})
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "Replacement channel set (repeatable)")
	cmd.Flags().StringVar(&language, "language", "", "New language")
	return cmd
}

func (a *app) botsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <botID>",
		Short: "Delete a bot with its local content and channel bindings",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			id, err := argInt(args, 0, "botID")
			if err != nil {
				return err
			}
			if _, err := con.Bot(cmd.Context(), id); err != nil {
				return err
			}
			if _, err := con.DeleteBot(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted bot %d\n", successColor.Sprint("✓"), id)
			return nil
		}),
	}
}

func (a *app) botsRetrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retrain <botID>",
		Short: "Retrain an active or failed bot",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			id, err := argInt(args, 0, "botID")
			if err != nil {
				return err
			}
			if _, err := con.Bot(cmd.Context(), id); err != nil {
				return err
			}
			inv, err := con.Bots.Retrain(cmd.Context(), id)
			if err != nil {
				return err
			}
			settle(cmd, con, inv)
			bot, _ := con.Bots.Get(id)
			return a.emit(cmd.OutOrStdout(), bot, func(w io.Writer) {
				fmt.Fprintf(w, "%s Retraining bot %d, status %s\n", successColor.Sprint("✓"), id, statusText(bot.Status))
			})
		}),
	}
}

func (a *app) botsActiveCmd(use string, active bool) *cobra.Command {
	short := "Put an inactive bot back into service"
	if !active {
		short = "Take an active bot out of service"
	}
	return &cobra.Command{
		Use:   use + " <botID>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			id, err := argInt(args, 0, "botID")
			if err != nil {
				return err
			}
			if _, err := con.Bot(cmd.Context(), id); err != nil {
				return err
			}
			bot, inv, err := con.Bots.SetActive(cmd.Context(), id, active)
			if err != nil {
				return err
			}
			settle(cmd, con, inv)
			return a.emit(cmd.OutOrStdout(), bot, func(w io.Writer) {
				fmt.Fprintf(w, "%s Bot %d is now %s\n", successColor.Sprint("✓"), bot.ID, statusText(bot.Status))
			})
		}),
	}
}

func printBot(w io.Writer, b models.Bot) {
	header(w, fmt.Sprintf("%s (#%d)", b.Name, b.ID))
	fmt.Fprintf(w, "Status:    %s\n", statusText(b.Status))
	fmt.Fprintf(w, "Website:   %s\n", b.SourceURL)
	if b.Description != "" {
		fmt.Fprintf(w, "About:     %s\n", b.Description)
	}
	fmt.Fprintf(w, "Channels:  %s\n", channelList(b.Channels))
	fmt.Fprintf(w, "Language:  %s\n", b.Language)
	fmt.Fprintf(w, "Queries:   %d\n", b.TotalQueries)
	fmt.Fprintf(w, "Accuracy:  %s\n", optionalPercent(b.AccuracyScore))
}

func toChannels(names []string) []models.Channel {
	if len(names) == 0 {
		return nil
	}
	out := make([]models.Channel, len(names))
	for i, n := range names {
		out[i] = models.Channel(n)
	}
	return out
}
