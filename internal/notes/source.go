package notes

import (
	"context"
	"strings"

	"github.com/nugget/daedalus/internal/turn"
)

// DefaultLimit is how many notes the fragment source and the recall
// tool return when no limit is given.
const DefaultLimit = 10

// Source yields the latest notes as prompt context. It implements
// fragment.Source.
type Source struct {
	store *Store
	limit int
}

// NewSource returns a source listing up to limit notes.
func NewSource(store *Store, limit int) *Source {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Source{store: store, limit: limit}
}

// Gather renders the notes, newest first, or "" when there are none.
func (s *Source) Gather(ctx context.Context, _ *turn.Context) (string, error) {
	ns, err := s.store.Latest(ctx, s.limit)
	if err != nil {
		return "", err
	}
	if len(ns) == 0 {
		return "", nil
	}
	return "Your notes:\n" + formatNotes(ns), nil
}

func formatNotes(ns []*Note) string {
	var sb strings.Builder
	for i, n := range ns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		if n.Topic != "" {
			sb.WriteString("[" + n.Topic + "] ")
		}
		sb.WriteString(n.Body)
		sb.WriteString(" (" + n.CreatedAt.Format("2006-01-02") + ")")
	}
	return sb.String()
}
