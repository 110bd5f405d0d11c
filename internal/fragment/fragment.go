// Package fragment implements cacheable units of prompt content.
//
// A [Fragment] wraps a [Source] with a time-to-live cache. Fragments are
// built by a [Factory], which carries the logger every fragment derives
// its own scoped logger from. The agent sorts fragments by [Fragment.Order]
// and places each one into the system or user prompt according to its
// [Section].
package fragment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nugget/daedalus/internal/turn"
)

// Section selects which prompt a fragment is delivered in.
type Section string

const (
	// Preamble content becomes the system instruction.
	Preamble Section = "preamble"
	// Body content becomes the user message.
	Body Section = "body"
)

// ParseSection converts a config value to a [Section]. Empty means
// [Body].
func ParseSection(s string) (Section, error) {
	switch Section(s) {
	case "", Body:
		return Body, nil
	case Preamble:
		return Preamble, nil
	default:
		return "", fmt.Errorf("unknown section %q (valid: preamble, body)", s)
	}
}

// Source produces fragment content. Implementations must tolerate
// being called again whenever the cached content expires.
type Source interface {
	Gather(ctx context.Context, tc *turn.Context) (string, error)
}

// SourceFunc adapts a function to the [Source] interface.
type SourceFunc func(ctx context.Context, tc *turn.Context) (string, error)

// Gather calls f.
func (f SourceFunc) Gather(ctx context.Context, tc *turn.Context) (string, error) {
	return f(ctx, tc)
}

// Snapshot is the view of a fragment handed to the prompt assembler.
type Snapshot struct {
	Key     string
	Content string
	Section Section
	Order   int
	Chars   int

	// Tokens is filled in by the assembler using the active gateway's
	// tokenizer. The fragment itself never sets it.
	Tokens *int
}

// Spec describes a fragment to build with [Factory.New].
type Spec struct {
	Key         string
	Name        string
	Description string
	Order       int
	Section     Section

	// TTL is how long gathered content stays fresh. Zero or negative
	// means regather on every access.
	TTL time.Duration

	// TTLString, when set, overrides TTL with a duration string such
	// as "5m", "1.5 hours" or "250". An unparseable value degrades to
	// zero with a warning.
	TTLString string
}

// Fragment is a named, ordered piece of prompt content with a TTL cache.
type Fragment struct {
	key         string
	name        string
	description string
	order       int
	section     Section
	ttl         time.Duration

	source Source
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	content   string
	gathered  bool
	expiresAt time.Time
}

// Key returns the fragment's immutable identity.
func (f *Fragment) Key() string { return f.key }

// Name returns the human-readable name, defaulting to the key.
func (f *Fragment) Name() string { return f.name }

// Description returns the optional description.
func (f *Fragment) Description() string { return f.description }

// Order returns the sort key.
func (f *Fragment) Order() int { return f.order }

// Section returns the prompt section.
func (f *Fragment) Section() Section { return f.section }

// TTL returns the cache lifetime.
func (f *Fragment) TTL() time.Duration { return f.ttl }

// Data returns the fragment's content, regathering from the source when
// revalidate is set, nothing has been gathered yet, the TTL is not
// positive, or the cached content has expired.
//
// A gather error is returned to the caller and the previously cached
// content is left as it was.
func (f *Fragment) Data(ctx context.Context, tc *turn.Context, revalidate bool) (Snapshot, error) {
	f.mu.Lock()
	stale := revalidate || !f.gathered || f.ttl <= 0 || !f.now().Before(f.expiresAt)
	content := f.content
	f.mu.Unlock()

	if stale {
		gathered, err := f.source.Gather(ctx, tc)
		if err != nil {
			return Snapshot{}, fmt.Errorf("gather fragment %s: %w", f.key, err)
		}

		f.mu.Lock()
		f.content = gathered
		f.gathered = true
		if f.ttl > 0 {
			f.expiresAt = f.now().Add(f.ttl)
		}
		f.mu.Unlock()

		content = gathered
		f.logger.Debug("fragment gathered",
			"chars", utf8.RuneCountInString(gathered),
			"revalidate", revalidate,
		)
	}

	return Snapshot{
		Key:     f.key,
		Content: content,
		Section: f.section,
		Order:   f.order,
		Chars:   utf8.RuneCountInString(content),
	}, nil
}

// Factory builds fragments bound to a logger and clock.
type Factory struct {
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a [Factory].
type Option func(*Factory)

// WithClock replaces time.Now for TTL bookkeeping. Tests use it to
// step time deterministically.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) {
		if now != nil {
			f.now = now
		}
	}
}

// ErrNoLogger is returned by [NewFactory] when no logger is supplied.
var ErrNoLogger = errors.New("fragment: factory requires a logger")

// NewFactory returns a factory whose fragments log through children of
// logger.
func NewFactory(logger *slog.Logger, opts ...Option) (*Factory, error) {
	if logger == nil {
		return nil, ErrNoLogger
	}
	f := &Factory{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Logger returns the factory's base logger.
func (fac *Factory) Logger() *slog.Logger { return fac.logger }

// New builds a fragment from spec and src.
func (fac *Factory) New(spec Spec, src Source) (*Fragment, error) {
	if spec.Key == "" {
		return nil, errors.New("fragment: key required")
	}
	if src == nil {
		return nil, fmt.Errorf("fragment %s: source required", spec.Key)
	}
	switch spec.Section {
	case Preamble, Body:
	case "":
		spec.Section = Body
	default:
		return nil, fmt.Errorf("fragment %s: unknown section %q", spec.Key, spec.Section)
	}
	return fac.build(spec, src), nil
}

func (fac *Factory) build(spec Spec, src Source) *Fragment {
	logger := fac.logger.With("component", spec.Key)

	ttl := spec.TTL
	if spec.TTLString != "" {
		parsed, err := ParseTTL(spec.TTLString)
		if err != nil {
			logger.Warn("invalid fragment ttl, regathering on every access",
				"ttl", spec.TTLString,
				"error", err,
			)
			parsed = 0
		}
		ttl = parsed
	}

	name := spec.Name
	if name == "" {
		name = spec.Key
	}

	return &Fragment{
		key:         spec.Key,
		name:        name,
		description: spec.Description,
		order:       spec.Order,
		section:     spec.Section,
		ttl:         ttl,
		source:      src,
		logger:      logger,
		now:         fac.now,
	}
}
