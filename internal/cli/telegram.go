package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/models"
)

func (a *app) telegramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Control the Telegram integration service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		a.telegramStatusCmd(),
		a.telegramTransitionCmd("start", "Start the integration service"),
		a.telegramTransitionCmd("stop", "Stop the integration service"),
		a.telegramRegisterCmd(),
		a.telegramUnregisterCmd(),
	)
	return cmd
}

type telegramView struct {
	State    models.ServiceState     `json:"state"`
	Bindings []models.ChannelBinding `json:"bindings"`
	Stats    models.ChannelStats     `json:"stats"`
}

func (a *app) telegramStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service state, bindings and usage",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			tg := con.Telegram
			if err := tg.Refresh(cmd.Context()); err != nil {
				return err
			}
			view := telegramView{State: tg.State(), Bindings: tg.Bindings(), Stats: tg.Stats()}
			return a.emit(cmd.OutOrStdout(), view, func(w io.Writer) {
				header(w, "Telegram")
				fmt.Fprintf(w, "Service:  %s\n", stateText(view.State))
				fmt.Fprintf(w, "Queries:  %d\n", view.Stats.TotalQueries)
				fmt.Fprintf(w, "Users:    %d\n", view.Stats.ActiveUsers)
				if len(view.Bindings) == 0 {
					fmt.Fprintln(w, "No bots registered")
					return
				}
				tw := table(w, "BOT ID", "NAME", "ACTIVE", "QUERIES")
				for _, b := range view.Bindings {
					fmt.Fprintf(tw, "%d\t%s\t%t\t%d\n", b.ChannelBotID, b.BotName, b.IsActive, b.TotalQueries)
				}
				tw.Flush()
			})
		}),
	}
}

func (a *app) telegramTransitionCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			tg := con.Telegram
			if err := tg.Refresh(cmd.Context()); err != nil {
				return err
			}
			var err error
			if use == "start" {
				_, err = tg.Start(cmd.Context())
			} else {
				_, err = tg.Stop(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Telegram service %s\n", stateText(tg.State()))
			return nil
		}),
	}
}

func (a *app) telegramRegisterCmd() *cobra.Command {
	var in models.BindingInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Bind a Telegram bot to the running service",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			tg := con.Telegram
			if err := tg.Refresh(cmd.Context()); err != nil {
				return err
			}
			binding, _, err := tg.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), binding, func(w io.Writer) {
				fmt.Fprintf(w, "%s Registered %s (%d)\n", successColor.Sprint("✓"), binding.BotName, binding.ChannelBotID)
			})
		}),
	}
	cmd.Flags().Int64Var(&in.ChannelBotID, "bot-id", 0, "Telegram bot id")
	cmd.Flags().StringVar(&in.BotName, "name", "", "Telegram bot username")
	cmd.Flags().StringVar(&in.Token, "token", "", "Bot API token")
	cmd.Flags().StringVar(&in.WebhookURL, "webhook", "", "Webhook URL")
	cmd.MarkFlagRequired("bot-id")
	cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) telegramUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <telegramBotID>",
		Short: "Remove a Telegram bot binding",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			id, err := argInt(args, 0, "telegramBotID")
			if err != nil {
				return err
			}
			if _, err := con.Telegram.Unregister(cmd.Context(), int64(id)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Unregistered %d\n", successColor.Sprint("✓"), id)
			return nil
		}),
	}
}
