package cli

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zetra-hq/zetra-sync/internal/models"
)

// entityTypesHelp перечисляет поддерживаемые типы для help-текстов
func entityTypesHelp() string {
	types := make([]string, 0, len(models.KnownEntityTypes))
	for t := range models.KnownEntityTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return strings.Join(types, ", ")
}

func (c *Cli) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <type> <json>",
		Short: "Create an entity locally",
		Long:  "Creates an entity in the local cache and queues it for the next sync.\nSupported types: " + entityTypesHelp(),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, payload := args[0], args[1]

			entity, err := c.dataService.Create(cmd.Context(), entityType, json.RawMessage(payload))
			if err != nil {
				return err
			}

			c.io.Printf("Created %s %s (queued for sync)\n", entityType, entity.EntityID)
			return nil
		},
	}
}

func (c *Cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [type]",
		Short: "List cached entities",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType := ""
			if len(args) > 0 {
				entityType = args[0]
			}

			entities, err := c.dataService.List(cmd.Context(), entityType)
			if err != nil {
				return err
			}

			if len(entities) == 0 {
				c.io.Println("No entities found.")
				return nil
			}

			for _, entity := range entities {
				marker := " "
				if entity.Dirty {
					marker = "*" // есть несинхронизированные правки
				}
				c.io.Printf("%s %-10s %s  v%d\n", marker, entity.EntityType, entity.EntityID, entity.Version)
			}
			c.io.Printf("\n%d entities, * = pending sync\n", len(entities))
			return nil
		},
	}
}

func (c *Cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Show a cached entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := c.dataService.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			c.io.Printf("Type:     %s\n", entity.EntityType)
			c.io.Printf("ID:       %s\n", entity.EntityID)
			c.io.Printf("Version:  %d\n", entity.Version)
			c.io.Printf("Dirty:    %v\n", entity.Dirty)
			c.io.Printf("Deleted:  %v\n", entity.Deleted)

			var pretty map[string]any
			if err := json.Unmarshal(entity.Payload, &pretty); err == nil {
				formatted, err := json.MarshalIndent(pretty, "", "  ")
				if err == nil {
					c.io.Printf("Payload:\n%s\n", formatted)
					return nil
				}
			}
			c.io.Printf("Payload: %s\n", entity.Payload)
			return nil
		},
	}
}

func (c *Cli) updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <type> <id> <json-patch>",
		Short: "Update an entity locally",
		Long:  "Applies a partial JSON patch to the entity: only the given top-level fields change.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.dataService.Update(cmd.Context(), args[0], args[1], json.RawMessage(args[2])); err != nil {
				return err
			}

			c.io.Printf("Updated %s %s (queued for sync)\n", args[0], args[1])
			return nil
		},
	}
}

func (c *Cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete an entity locally",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.dataService.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}

			c.io.Printf("Deleted %s %s (queued for sync)\n", args[0], args[1])
			return nil
		},
	}
}
