package agent

import (
	"github.com/nugget/daedalus/internal/fragment"
	"github.com/nugget/daedalus/internal/gateway"
	"github.com/nugget/daedalus/internal/tools"
)

// Bundle is a preset of fragments, tools, and optionally a gateway that
// can be loaded into an agent in one step. Triggers are carried for the
// caller to start; the agent does not run them.
type Bundle struct {
	Name      string
	Fragments []*fragment.Fragment
	Tools     []*tools.Tool
	Triggers  []Trigger
	Gateway   gateway.Gateway
}

// Trigger starts turns on an agent. Implementations live in the
// trigger package.
type Trigger interface {
	Key() string
}

// Load registers everything in b and returns the fragment keys and
// tool names it replaced. A nil bundle gateway leaves the current one.
func (a *Agent) Load(b Bundle) (replaced []string) {
	for _, f := range b.Fragments {
		if a.PutFragment(f) {
			replaced = append(replaced, f.Key())
		}
	}
	for _, t := range b.Tools {
		if a.PutTool(t) {
			replaced = append(replaced, t.Name)
		}
	}
	if b.Gateway != nil {
		a.SetGateway(b.Gateway)
	}
	if len(replaced) > 0 {
		a.logger.Warn("bundle replaced registrations", "bundle", b.Name, "keys", replaced)
	}
	a.logger.Info("bundle loaded",
		"bundle", b.Name,
		"fragments", len(b.Fragments),
		"tools", len(b.Tools),
		"triggers", len(b.Triggers),
	)
	return replaced
}
