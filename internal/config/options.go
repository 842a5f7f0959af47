// File: internal/config/options.go
package config

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

// OptionDefinition describes one context option contributed by a source,
// target or resolver. Options surface as CLI flags, env variables and
// context.<key> config entries.
type OptionDefinition struct {
	Key         string
	Description string
	// Secret options are masked in logs and help output.
	Secret bool
	// Required options must be non-blank once every option in DependsOn is
	// non-blank.
	Required  bool
	DependsOn []string
}

// FlagName returns the CLI flag name, with dots replaced by dashes.
func (o OptionDefinition) FlagName() string {
	return strings.ReplaceAll(o.Key, ".", "-")
}

// EnvName returns the environment variable that sets the option.
func (o OptionDefinition) EnvName() string {
	return "BUGSYNC_CONTEXT_" + strings.ToUpper(EnvKeyReplacer().Replace(o.Key))
}

// MergeOptions concatenates option sets, dropping later duplicates of a key.
func MergeOptions(sets ...[]OptionDefinition) []OptionDefinition {
	var out []OptionDefinition
	seen := make(map[string]bool)
	for _, set := range sets {
		for _, o := range set {
			if seen[o.Key] {
				continue
			}
			seen[o.Key] = true
			out = append(out, o)
		}
	}
	return out
}

// CheckOptions verifies required options against the initial context and
// marks secret options as secret on it.
func CheckOptions(defs []OptionDefinition, props *runcontext.Context) error {
	var missing []string
	for _, o := range defs {
		if o.Secret {
			props.MarkSecret(o.Key)
		}
		if !o.Required || !props.IsBlank(o.Key) {
			continue
		}
		active := true
		for _, dep := range o.DependsOn {
			if props.IsBlank(dep) {
				active = false
				break
			}
		}
		if active {
			missing = append(missing, fmt.Sprintf("%s (--%s)", o.Key, o.FlagName()))
		}
	}
	if len(missing) > 0 {
		return syncerr.Configuration("check options", "missing required options: %s", strings.Join(missing, ", "))
	}
	return nil
}
