package builtins

import (
	"context"
	"fmt"
	"strings"

	"github.com/artificer-ai/artificer/pkg/tool"
	"github.com/artificer-ai/artificer/pkg/toolstore"
)

func saveNoteSchema() tool.Schema {
	return tool.Schema{
		Name:        "save_note",
		Description: "Saves a note with a title and content for later retrieval.",
		Parameters: []tool.Parameter{
			{Name: "title", Type: "string", Description: "Short title of the note", Required: true},
			{Name: "content", Type: "string", Description: "The note body", Required: true},
		},
	}
}

func saveNoteHandler(store *toolstore.Store) tool.Handler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		title, err := stringArg(params, "title")
		if err != nil {
			return nil, err
		}
		content, err := stringArg(params, "content")
		if err != nil {
			return nil, err
		}
		if err := store.SaveNote(ctx, title, content); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Note %q saved successfully", title), nil
	}
}

func readNotesSchema() tool.Schema {
	return tool.Schema{
		Name:        "read_notes",
		Description: "Returns all saved notes.",
	}
}

func readNotesHandler(store *toolstore.Store) tool.Handler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		notes, err := store.ListNotes(ctx)
		if err != nil {
			return nil, err
		}
		if len(notes) == 0 {
			return "No notes found", nil
		}

		parts := make([]string, 0, len(notes))
		for _, n := range notes {
			parts = append(parts, fmt.Sprintf("Title: %s\nContent: %s\nCreated: %s",
				n.Title, n.Content, n.CreatedAt.Format("2006-01-02 15:04:05")))
		}
		return strings.Join(parts, "\n\n---\n\n"), nil
	}
}
