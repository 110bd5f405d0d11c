package notes

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nugget/daedalus/internal/tools"
)

type rememberArgs struct {
	Topic string `json:"topic,omitempty" jsonschema:"Short label for the note, e.g. a person or project."`
	Body  string `json:"body" jsonschema:"The information to remember."`
}

type recallArgs struct {
	Query string `json:"query,omitempty" jsonschema:"Text to search for. Omit to list the latest notes."`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of notes to return."`
}

// Tools returns the remember_note and recall_notes tools.
func (s *Store) Tools() ([]*tools.Tool, error) {
	rememberSchema, err := jsonschema.For[rememberArgs](nil)
	if err != nil {
		return nil, fmt.Errorf("remember_note schema: %w", err)
	}
	recallSchema, err := jsonschema.For[recallArgs](nil)
	if err != nil {
		return nil, fmt.Errorf("recall_notes schema: %w", err)
	}

	return []*tools.Tool{
		{
			Name:        "remember_note",
			Description: "Save a note for future turns. Use for facts, preferences or follow-ups worth keeping.",
			Parameters:  rememberSchema,
			Handler:     s.handleRemember,
		},
		{
			Name:        "recall_notes",
			Description: "Search your saved notes, or list the latest ones when no query is given.",
			Parameters:  recallSchema,
			Handler:     s.handleRecall,
		},
	}, nil
}

func (s *Store) handleRemember(ctx context.Context, args map[string]any) (string, error) {
	body, _ := args["body"].(string)
	topic, _ := args["topic"].(string)
	if body == "" {
		return "", fmt.Errorf("body is required")
	}
	n, err := s.Add(ctx, topic, body)
	if err != nil {
		return "", err
	}
	return "Saved note " + n.ID, nil
}

func (s *Store) handleRecall(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	limit := DefaultLimit
	// JSON numbers arrive as float64.
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	var (
		ns  []*Note
		err error
	)
	if query == "" {
		ns, err = s.Latest(ctx, limit)
	} else {
		ns, err = s.Search(ctx, query, limit)
	}
	if err != nil {
		return "", err
	}
	if len(ns) == 0 {
		return "No notes found.", nil
	}
	return formatNotes(ns), nil
}
