package talents

import (
	"context"
	"strings"

	"github.com/nugget/daedalus/internal/turn"
)

// Source is the document fragment source. It reloads path on every
// gather, so edits show up once the fragment's TTL lapses.
type Source struct {
	path string
	tags []string
}

// NewSource returns a source for path. When tags is non-empty only
// untagged talents and those sharing a tag are included.
func NewSource(path string, tags []string) *Source {
	return &Source{path: path, tags: tags}
}

// Gather renders the matching talents separated by blank lines.
func (s *Source) Gather(_ context.Context, _ *turn.Context) (string, error) {
	ts, err := Load(s.path)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, t := range ts {
		if t.Matches(s.tags) && t.Text != "" {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
