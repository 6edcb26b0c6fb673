package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goSession "github.com/MrEthical07/goSession"
)

func newRegisterCmd(a *app) *cobra.Command {
	var in goSession.RegistrationInput
	c := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Password = passwordOr(in.Password)
			res, err := a.client.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (id %d, email %s)\n", res.Username, res.ID, res.Email)
			return nil
		},
	}
	c.Flags().StringVar(&in.Username, "username", "", "account username")
	c.Flags().StringVar(&in.Email, "email", "", "account email")
	c.Flags().StringVar(&in.Password, "password", "", "account password (or SESSIONCTL_PASSWORD)")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("email")
	return c
}

func newLoginCmd(a *app) *cobra.Command {
	var in goSession.LoginInput
	c := &cobra.Command{
		Use:   "login",
		Short: "Log in and keep the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Password = passwordOr(in.Password)
			if err := a.client.Login(cmd.Context(), in); err != nil {
				if errors.Is(err, goSession.ErrInvalidCredentials) {
					return errors.New("login rejected: wrong username or password")
				}
				return err
			}
			id, _ := a.client.Session().Identity()
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", id.DisplayName)
			return nil
		},
	}
	c.Flags().StringVar(&in.Username, "username", "", "username or email")
	c.Flags().StringVar(&in.Password, "password", "", "password (or SESSIONCTL_PASSWORD)")
	_ = c.MarkFlagRequired("username")
	return c
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.client.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printStatus(cmd.OutOrStdout(), a.client.Session().Snapshot())
			return nil
		},
	}
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access credential now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Renew(cmd.Context()); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), a.client.Session().Snapshot())
			return nil
		},
	}
}

func printStatus(w io.Writer, s goSession.Session) {
	if s.Identity == nil {
		fmt.Fprintln(w, "authenticated: false")
		return
	}
	fmt.Fprintf(w, "authenticated: %t\n", s.Authenticated)
	fmt.Fprintf(w, "user: %s (id %s, initials %s)\n", s.Identity.DisplayName, s.Identity.ID, s.Identity.Initials())
	if !s.ExpiresAt.IsZero() {
		fmt.Fprintf(w, "expires: %s\n", s.ExpiresAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "refresh credential: %t\n", s.RefreshCredential != "")
}

func passwordOr(flag string) string {
	if flag != "" {
		return flag
	}
	return strings.TrimSpace(os.Getenv("SESSIONCTL_PASSWORD"))
}
