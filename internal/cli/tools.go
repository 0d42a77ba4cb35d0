package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Manage custom tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in and custom tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(false)
		if err != nil {
			return err
		}
		defer app.Close()

		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Built-in tools:")
		for _, name := range app.Registry.BuiltinNames() {
			def, err := app.Registry.Resolve(cmd.Context(), name)
			if err != nil {
				continue
			}
			fmt.Fprintf(out, "  %-20s %s\n", name, def.Schema.Description)
		}

		custom, err := app.Store.List(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nCustom tools (%d):\n", len(custom))
		for _, s := range custom {
			fmt.Fprintf(out, "  %-20s %s\n", s.Name, s.Description)
		}
		return nil
	},
}

var toolsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a custom tool's schema and code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(false)
		if err != nil {
			return err
		}
		defer app.Close()

		def, err := app.Store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		schemaJSON, _ := json.MarshalIndent(def.Schema, "", "  ")
		fmt.Fprintf(out, "%s\n\nCode:\n%s\n", schemaJSON, def.Code)
		return nil
	},
}

var toolsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a custom tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(false)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tool %q deleted.\n", args[0])
		return nil
	},
}

func init() {
	toolsCmd.AddCommand(toolsListCmd, toolsShowCmd, toolsDeleteCmd)
	rootCmd.AddCommand(toolsCmd)
}
