package fragment

import (
	"context"
	"math"

	"github.com/nugget/daedalus/internal/turn"
)

// Static returns a source that always yields text.
func Static(text string) Source {
	return SourceFunc(func(context.Context, *turn.Context) (string, error) {
		return text, nil
	})
}

// SystemPrefix builds a preamble fragment that sorts before every other
// fragment. It is typically the agent's persona or core instruction.
func (fac *Factory) SystemPrefix(text string) *Fragment {
	return fac.build(Spec{
		Key:         "system_prefix",
		Name:        "System Prefix",
		Description: "Leading system instruction.",
		Order:       math.MinInt,
		Section:     Preamble,
	}, Static(text))
}

// SystemSuffix builds a preamble fragment that sorts after every other
// fragment.
func (fac *Factory) SystemSuffix(text string) *Fragment {
	return fac.build(Spec{
		Key:         "system_suffix",
		Name:        "System Suffix",
		Description: "Trailing system instruction.",
		Order:       math.MaxInt,
		Section:     Preamble,
	}, Static(text))
}

// TurnInput builds a body fragment that yields prefix followed by the
// triggering input of the current turn. With no input it yields an
// empty string and logs a warning.
func (fac *Factory) TurnInput(key string, order int, prefix string) *Fragment {
	if key == "" {
		key = "turn-input"
	}
	logger := fac.logger.With("component", key)
	src := SourceFunc(func(_ context.Context, tc *turn.Context) (string, error) {
		if tc == nil || tc.Input == "" {
			logger.Warn("no turn input to include")
			return "", nil
		}
		return prefix + tc.Input, nil
	})
	return fac.build(Spec{
		Key:         key,
		Name:        "Turn Input",
		Description: "Input supplied by the trigger that started the turn.",
		Order:       order,
		Section:     Body,
	}, src)
}
