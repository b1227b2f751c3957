package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"agridetect/internal/client"
)

func (a *app) registerCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if email, err = a.prompt("Email", email); err != nil {
				return err
			}
			if password, err = a.prompt("Password", password); err != nil {
				return err
			}
			c, _, err := a.newClient(false)
			if err != nil {
				return err
			}
			u, err := c.Register(commandContext(cmd), email, name, password)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(u)
			}
			fmt.Fprintf(a.out, "Registered %s (%s). Run 'agridetect login' next.\n", u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&password, "password", os.Getenv("AGRIDETECT_PASSWORD"), "password (prompted when empty)")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if email, err = a.prompt("Email", email); err != nil {
				return err
			}
			if password, err = a.prompt("Password", password); err != nil {
				return err
			}
			c, _, err := a.newClient(false)
			if err != nil {
				return err
			}
			tok, err := c.Login(commandContext(cmd), email, password)
			if err != nil {
				return err
			}
			sess := &client.Session{
				ServerURL: c.BaseURL(),
				Email:     tok.User.Email,
				Token:     tok.AccessToken,
				ExpiresAt: tok.ExpiresAt,
			}
			if err := sess.Save(a.sessionPath); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(a.out, "Logged in as %s (session valid until %s)\n",
				sess.Email, sess.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", os.Getenv("AGRIDETECT_PASSWORD"), "password (prompted when empty)")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.DeleteSession(a.sessionPath); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.newClient(true)
			if err != nil {
				return err
			}
			u, err := c.Me(commandContext(cmd))
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(u)
			}
			fmt.Fprintf(a.out, "%s <%s> role=%s\n", u.FullName, u.Email, u.Role)
			return nil
		},
	}
}

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.newClient(false)
			if err != nil {
				return err
			}
			if err := c.Ping(commandContext(cmd)); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s is online\n", c.BaseURL())
			return nil
		},
	}
}
