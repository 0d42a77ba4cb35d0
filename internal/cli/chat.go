package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"
)

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session. The assistant can call its
built-in tools and any custom tools it creates along the way.

In-session commands:
  /clear    wipe the current session's history
  /tools    list available tools
  exit      leave the chat`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "session ID to resume (default: a fresh session)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	app, err := newApp(true)
	if err != nil {
		return err
	}
	defer app.Close()

	sessionID := chatSessionID
	if sessionID == "" {
		sessionID = gonanoid.Must(12)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "artificer %s, session %s (exit to quit)\n", version, sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())

		switch input {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/clear":
			if err := app.Orchestrator.ClearSession(ctx, sessionID); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "Session cleared.")
			continue
		case "/tools":
			tools, err := app.Registry.ListAll(ctx)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			for _, t := range tools {
				fmt.Fprintf(out, "  %-20s %s\n", t.Name, t.Description)
			}
			continue
		}

		result, err := app.Orchestrator.HandleTurn(ctx, sessionID, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "%s\n", result.Text)
	}
	return scanner.Err()
}
