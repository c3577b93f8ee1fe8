package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zetra-hq/zetra-sync/internal/client/storage"
)

func (c *Cli) registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register a new user",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, password, err := c.readCredentials()
			if err != nil {
				return err
			}

			resp, err := c.authService.Register(cmd.Context(), username, password)
			if err != nil {
				return err
			}

			c.io.Printf("Registered user %s (id %s)\n", username, resp.UserID)
			c.io.Println("Run 'zetra login' to start working.")
			return nil
		},
	}
}

func (c *Cli) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to the sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, password, err := c.readCredentials()
			if err != nil {
				return err
			}

			session, err := c.authService.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}

			c.io.Printf("Logged in as %s (device %s)\n", session.Username, session.DeviceID)
			return nil
		},
	}
}

func (c *Cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Logout and drop the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authService.Logout(cmd.Context()); err != nil {
				return err
			}

			c.io.Println("Logged out.")
			return nil
		},
	}
}

func (c *Cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and pending changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			session, err := c.authService.Session(ctx)
			if err != nil {
				if errors.Is(err, storage.ErrSessionNotFound) {
					c.io.Println("Not logged in.")
					return nil
				}
				return fmt.Errorf("failed to get session: %w", err)
			}

			pending, err := c.syncService.PendingCount(ctx)
			if err != nil {
				return fmt.Errorf("failed to count pending operations: %w", err)
			}

			c.io.Printf("User:      %s\n", session.Username)
			c.io.Printf("Device:    %s\n", session.DeviceID)
			c.io.Printf("Pending:   %d operation(s)\n", pending)
			return nil
		},
	}
}
