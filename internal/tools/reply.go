package tools

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nugget/daedalus/internal/turn"
)

type replyArgs struct {
	ReplyText string `json:"replyText" jsonschema:"the text to show the user"`
}

// Reply returns the reply tool. It writes replyText to the reply writer
// of the current turn, or to w when the turn has none.
func Reply(w io.Writer) (*Tool, error) {
	params, err := jsonschema.For[replyArgs](nil)
	if err != nil {
		return nil, fmt.Errorf("reply schema: %w", err)
	}
	return &Tool{
		Name:        "reply",
		Description: "Reply to the user's message.",
		Parameters:  params,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			text, _ := args["replyText"].(string)
			if text == "" {
				return "", errors.New("replyText is required")
			}
			out := w
			if tc := turn.FromContext(ctx); tc != nil && tc.Reply != nil {
				out = tc.Reply
			}
			if out == nil {
				return "", errors.New("no reply writer")
			}
			if _, err := fmt.Fprintln(out, text); err != nil {
				return "", fmt.Errorf("write reply: %w", err)
			}
			return "delivered", nil
		},
	}, nil
}
