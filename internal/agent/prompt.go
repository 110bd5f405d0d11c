package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/daedalus/internal/fragment"
	"github.com/nugget/daedalus/internal/turn"
)

// partSeparator joins the parts of each prompt section.
const partSeparator = "\n\n"

// Prompt is the result of assembling one turn's context.
type Prompt struct {
	System string
	User   string

	// Included lists the fragments packed into the prompt, in order,
	// with Tokens filled in.
	Included []fragment.Snapshot

	// Omitted lists the keys of fragments dropped once the budget
	// overflowed.
	Omitted []string

	ToolBlock bool
	TurnInput bool

	Budget       int
	SystemTokens int
	UserTokens   int
}

// Tokens is the number of tokens counted against the budget.
func (p *Prompt) Tokens() int { return p.SystemTokens + p.UserTokens }

// Budget returns the effective prompt budget for a model with the given
// context window: the configured target, capped so the reserved output
// still fits. It never goes below zero.
func (c Config) Budget(contextWindow int) int {
	return max(0, min(c.TargetTokens, contextWindow-c.MaxOutputTokens))
}

// Assemble builds the system and user prompts for tc.
//
// Fragments are visited in order and packed greedily. The first one
// that does not fit ends packing: it and every fragment after it are
// omitted, even ones small enough to fit. The tool block and the turn
// input are then each added whole or not at all. The raw input stands
// in for the user prompt only when nothing else was assembled.
func (a *Agent) Assemble(ctx context.Context, tc *turn.Context) (*Prompt, error) {
	gw := a.Gateway()
	if gw == nil {
		return nil, ErrNoGateway
	}

	p := &Prompt{Budget: a.cfg.Budget(gw.ContextWindowTokens())}
	var sys, usr []string

	frags := a.OrderedFragments()
	for i, f := range frags {
		snap, err := f.Data(ctx, tc, false)
		if err != nil {
			return nil, err
		}
		if snap.Content == "" {
			continue
		}
		n, err := gw.Tokenize(ctx, snap.Content)
		if err != nil {
			return nil, fmt.Errorf("tokenize fragment %s: %w", snap.Key, err)
		}
		snap.Tokens = &n

		if p.Tokens()+n > p.Budget {
			for _, rest := range frags[i:] {
				p.Omitted = append(p.Omitted, rest.Key())
			}
			a.logger.Info("prompt budget reached, omitting remaining fragments",
				"key", snap.Key,
				"tokens", n,
				"used", p.Tokens(),
				"budget", p.Budget,
				"omitted", len(p.Omitted),
			)
			break
		}

		if snap.Section == fragment.Preamble {
			sys = append(sys, snap.Content)
			p.SystemTokens += n
		} else {
			usr = append(usr, snap.Content)
			p.UserTokens += n
		}
		p.Included = append(p.Included, snap)
	}

	if block := a.tools.Block(); block != "" {
		if a.cfg.ToolBudget == ToolBudgetExempt {
			sys = append(sys, block)
			p.ToolBlock = true
		} else {
			n, err := gw.Tokenize(ctx, block)
			if err != nil {
				return nil, fmt.Errorf("tokenize tool block: %w", err)
			}
			if p.Tokens()+n <= p.Budget {
				sys = append(sys, block)
				p.SystemTokens += n
				p.ToolBlock = true
			} else {
				a.logger.Info("tool block does not fit prompt budget, omitting",
					"tokens", n,
					"used", p.Tokens(),
					"budget", p.Budget,
				)
			}
		}
	}

	input := ""
	if tc != nil {
		input = tc.Input
	}
	if a.cfg.IncludeTurnInput && input != "" {
		text := a.cfg.TurnInputLabel + "\n" + input
		n, err := gw.Tokenize(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("tokenize turn input: %w", err)
		}
		if p.Tokens()+n <= p.Budget {
			usr = append(usr, text)
			p.UserTokens += n
			p.TurnInput = true
		} else {
			a.logger.Info("turn input does not fit prompt budget, omitting",
				"tokens", n,
				"used", p.Tokens(),
				"budget", p.Budget,
			)
		}
	}

	p.System = strings.Join(sys, partSeparator)
	p.User = strings.Join(usr, partSeparator)

	if p.System == "" && p.User == "" {
		if input == "" {
			return nil, ErrEmptyPrompt
		}
		p.User = input
	}

	a.logger.Debug("prompt assembled",
		"included", len(p.Included),
		"omitted", len(p.Omitted),
		"tool_block", p.ToolBlock,
		"turn_input", p.TurnInput,
		"system_tokens", p.SystemTokens,
		"user_tokens", p.UserTokens,
		"budget", p.Budget,
	)
	return p, nil
}
