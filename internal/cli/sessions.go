package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(false)
		if err != nil {
			return err
		}
		defer app.Close()

		ids, err := app.Sessions.List()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No sessions.")
			return nil
		}
		for _, id := range ids {
			info, err := app.Sessions.Info(cmd.Context(), id)
			if err != nil {
				fmt.Fprintf(out, "  %s\n", id)
				continue
			}
			turns, _ := info["turn_count"].(int)
			modified, _ := info["last_modified"].(time.Time)
			fmt.Fprintf(out, "  %-24s %4d turns  last active %s\n",
				id, turns, modified.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear <id>",
	Short: "Wipe a session's history, keeping the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(false)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Sessions.Clear(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %q cleared.\n", args[0])
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session entirely",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(false)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Sessions.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %q deleted.\n", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsClearCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}
