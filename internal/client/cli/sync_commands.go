package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zetra-hq/zetra-sync/internal/client/sync"
)

func (c *Cli) syncCmd() *cobra.Command {
	var opts sync.Options

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize local data with the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := c.syncService.Sync(cmd.Context(), opts)
			if err != nil {
				return err
			}

			c.io.Printf("Pushed:  %d operation(s), %d applied\n", result.Pushed, result.Applied)
			c.io.Printf("Pulled:  %d server change(s)\n", result.Pulled)

			for _, opErr := range result.Errors {
				c.io.Printf("Rejected %s: %s\n", opErr.OperationID, opErr.Reason)
			}

			if len(result.Conflicts) > 0 {
				c.io.Printf("\n%d conflict(s) need resolution:\n", len(result.Conflicts))
				for _, conflict := range result.Conflicts {
					c.io.Printf("  %s  %s %s (%s)\n", conflict.ID, conflict.EntityType, conflict.EntityID, conflict.ConflictType)
				}
				c.io.Println("Run 'zetra conflicts resolve <id> <local|remote|custom>' to resolve.")
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "request a full snapshot instead of an incremental delta")
	cmd.Flags().BoolVar(&opts.Compress, "compress", false, "ask the server to gzip the response")
	cmd.Flags().BoolVar(&opts.Compact, "compact", false, "elide large payloads in the delta")

	return cmd
}

func (c *Cli) conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve sync conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.syncService.Conflicts(cmd.Context())
			if err != nil {
				return err
			}

			if !resp.HasConflicts {
				c.io.Println("No pending conflicts.")
				return nil
			}

			c.io.Printf("%d pending conflict(s): %d concurrent, %d delete\n\n",
				resp.Stats.Pending, resp.Stats.Concurrent, resp.Stats.Delete)

			for _, conflict := range resp.Conflicts {
				c.io.Printf("%s\n", conflict.ID)
				c.io.Printf("  Entity:   %s %s\n", conflict.EntityType, conflict.EntityID)
				c.io.Printf("  Type:     %s\n", conflict.ConflictType)
				c.io.Printf("  Local:    %s (declared v%d)\n", conflict.LocalOperation.Kind, conflict.LocalOperation.DeclaredVersion)
				c.io.Printf("  Remote:   v%d deleted=%v\n", conflict.RemoteVersion, conflict.RemoteDeleted)
				c.io.Printf("  Detected: %s\n\n", conflict.DetectedAt.Format("2006-01-02 15:04:05"))
			}

			if resp.RequiresAttention {
				c.io.Println("Delete conflicts are never auto-resolved, review them manually.")
			}

			return nil
		},
	}

	cmd.AddCommand(c.resolveCmd())
	return cmd
}

func (c *Cli) resolveCmd() *cobra.Command {
	var customData string

	cmd := &cobra.Command{
		Use:   "resolve <id> <local|remote|custom>",
		Short: "Resolve a conflict with the chosen strategy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conflictID, strategy := args[0], args[1]

			if strategy == "custom" && customData == "" {
				return fmt.Errorf("custom strategy requires --data with the merged JSON payload")
			}

			resp, err := c.syncService.Resolve(cmd.Context(), conflictID, strategy, json.RawMessage(customData))
			if err != nil {
				return err
			}

			c.io.Printf("Conflict %s resolved (%s), entity now at v%d\n",
				resp.ConflictID, resp.Resolution, resp.NewVersion)
			c.io.Println("Run 'zetra sync' to pull the resolved state.")
			return nil
		},
	}

	cmd.Flags().StringVar(&customData, "data", "", "merged JSON payload for the custom strategy")

	return cmd
}
