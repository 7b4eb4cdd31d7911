package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/models"
)

func (a *app) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			if password == "" {
				var err error
				if password, err = prompt(cmd, "Password: "); err != nil {
					return err
				}
			}
			s, err := con.Session.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), s, func(w io.Writer) {
				fmt.Fprintf(w, "%s Signed in as %s\n", successColor.Sprint("✓"), s.User.Email)
			})
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) registerCmd() *cobra.Command {
	var reg models.Registration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			if reg.Password == "" {
				var err error
				if reg.Password, err = prompt(cmd, "Password: "); err != nil {
					return err
				}
			}
			s, err := con.Session.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), s, func(w io.Writer) {
				fmt.Fprintf(w, "%s Registered and signed in as %s\n", successColor.Sprint("✓"), s.User.Email)
			})
		}),
	}
	cmd.Flags().StringVar(&reg.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&reg.Password, "password", "", "Account password (prompted when omitted)")
	cmd.Flags().StringVar(&reg.FullName, "name", "", "Full name")
	cmd.Flags().StringVar(&reg.Organization, "org", "", "Organization")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			con.Session.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		}),
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			s := con.Session.Current()
			return a.emit(cmd.OutOrStdout(), s, func(w io.Writer) {
				if !s.Authenticated {
					fmt.Fprintln(w, "Not signed in (run 'faqctl login')")
					return
				}
				fmt.Fprintf(w, "Email:        %s\n", s.User.Email)
				fmt.Fprintf(w, "Name:         %s\n", s.User.FullName)
				if s.User.Organization != "" {
					fmt.Fprintf(w, "Organization: %s\n", s.User.Organization)
				}
			})
		}),
	}
}

func prompt(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
