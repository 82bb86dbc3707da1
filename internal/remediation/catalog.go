package remediation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-sentinel/internal/config"
)

// Action is one permitted remediation: the exact command text a backend must produce and the
// fixed argv that is executed for it.
type Action struct {
	Command string
	Argv    []string
}

// Catalog is the closed set of permitted actions keyed by exact command text.
type Catalog struct {
	actions map[string]Action
}

// NewCatalog builds a catalog from allowlist entries. An entry without explicit argv executes the
// whitespace split of its command.
func NewCatalog(entries []config.AllowlistEntry) (*Catalog, error) {
	actions := make(map[string]Action, len(entries))
	for _, entry := range entries {
		cmd := strings.TrimSpace(entry.Command)
		if cmd == "" {
			return nil, fmt.Errorf("allowlist entry with empty command")
		}
		if _, dup := actions[cmd]; dup {
			return nil, fmt.Errorf("duplicate allowlist entry %q", cmd)
		}
		argv := append([]string(nil), entry.Argv...)
		if len(argv) == 0 {
			argv = strings.Fields(cmd)
		}
		actions[cmd] = Action{Command: cmd, Argv: argv}
	}
	return &Catalog{actions: actions}, nil
}

// Lookup reports the action for an exact command string.
func (c *Catalog) Lookup(command string) (Action, bool) {
	a, ok := c.actions[command]
	if !ok {
		return Action{}, false
	}
	a.Argv = append([]string(nil), a.Argv...)
	return a, true
}

// Commands lists the permitted command strings in sorted order.
func (c *Catalog) Commands() []string {
	out := make([]string, 0, len(c.actions))
	for cmd := range c.actions {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}

// Normalize trims surrounding whitespace and at most one surrounding markdown code span. Nothing
// else is rewritten.
func Normalize(step string) string {
	s := strings.TrimSpace(step)
	if len(s) >= 2 && strings.HasPrefix(s, "`") && strings.HasSuffix(s, "`") {
		inner := s[1 : len(s)-1]
		if !strings.Contains(inner, "`") {
			s = strings.TrimSpace(inner)
		}
	}
	return s
}
