// Package cli implements faqctl, the operator command line over the console.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/models"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/faqbot/console/internal/cli.version=1.2.3"
	version = "0.4.0"
	banner  = "\n" +
		"  __             _        _   _\n" +
		" / _| __ _  __ _| |_  ___| |_| |\n" +
		"| |_ / _` |/ _` | __|/ __| __| |\n" +
		"|  _| (_| | (_| | |_| (__| |_| |\n" +
		"|_|  \\__,_|\\__, |\\__|\\___|\\__|_|\n" +
		"              |_|\n"
)

// Opener builds the console a command runs against. It is called at most
// once per invocation.
type Opener func() (*console.Console, error)

type app struct {
	open   Opener
	con    *console.Console
	asJSON bool
}

// NewRootCommand returns the faqctl command tree.
func NewRootCommand(open Opener) *cobra.Command {
	a := &app{open: open}

	root := &cobra.Command{
		Use:           "faqctl",
		Short:         "faqctl - FAQ bot administration console",
		Long:          color.CyanString(banner) + "\nManage FAQ bots, their content, channels and analytics.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "Output machine-readable JSON")

	root.AddCommand(
		a.versionCmd(),
		a.loginCmd(),
		a.registerCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.botsCmd(),
		a.askCmd(),
		a.contentCmd(),
		a.telegramCmd(),
		a.analyticsCmd(),
	)
	return root
}

// Execute runs the command tree and prints a failure in red.
func Execute(open Opener) error {
	root := NewRootCommand(open)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), color.RedString("Error: %v", err))
		return err
	}
	return nil
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "faqctl %s\n", version)
		},
	}
}

// run opens the console, restores a stored session and closes the console
// when fn returns.
func (a *app) run(fn func(cmd *cobra.Command, args []string, con *console.Console) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		con, err := a.console(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, args, con)
	}
}

func (a *app) console(ctx context.Context) (*console.Console, error) {
	if a.con != nil {
		return a.con, nil
	}
	con, err := a.open()
	if err != nil {
		return nil, err
	}
	if !con.Session.Authenticated() {
		con.Session.Restore(ctx)
	}
	a.con = con
	return con, nil
}

func (a *app) close() {
	if a.con == nil {
		return
	}
	a.con.Close()
	a.con = nil
}

// emit writes v as indented JSON under --json, otherwise calls text.
func (a *app) emit(w io.Writer, v any, text func(io.Writer)) error {
	if a.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func argInt(args []string, i int, name string) (int, error) {
	v, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, args[i])
	}
	return v, nil
}

// settle re-fetches what a mutation invalidated. A failed refresh does not
// undo the mutation, so it is only reported.
func settle(cmd *cobra.Command, con *console.Console, inv models.Invalidation) {
	if err := con.Apply(cmd.Context(), inv); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), warningColor.Sprintf("Refresh after change failed: %v", err))
	}
}
