// Package rules implements the risk rules and the registry that instantiates
// them from config. Every rule known to the daemon is compiled in and selected
// by name; a config key naming no registered rule is reported and skipped so
// the remaining rules keep protecting the account.
package rules

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/scranton_sentinel/internal/broker"
	"github.com/eddiefleurent/scranton_sentinel/internal/config"
	"github.com/eddiefleurent/scranton_sentinel/internal/models"
)

// Status is the outcome of a rule check.
type Status string

const (
	// StatusValid means the rule saw nothing wrong.
	StatusValid Status = "VALID"
	// StatusBreach means the rule's limit was exceeded.
	StatusBreach Status = "BREACH"
)

// Action is the enforcement a breached rule demands.
type Action string

const (
	// ActionNone requests no enforcement.
	ActionNone Action = ""
	// ActionFlatten closes the breaching contract's position.
	ActionFlatten Action = "flatten"
	// ActionKillSwitch closes every position and locks trading.
	ActionKillSwitch Action = "kill_switch"
)

// Result is a rule's verdict on one event.
type Result struct {
	Status Status
	Reason string
	Action Action
	// TargetContract is the contract a flatten should close. Empty for
	// kill-switch and for valid results.
	TargetContract string
}

// Valid is the no-breach result.
func Valid() Result { return Result{Status: StatusValid} }

// Deps is the daemon state a rule is allowed to observe. Rules are pure with
// respect to everything else.
type Deps struct {
	Broker   broker.Client
	DryRun   bool
	DailyPnl float64
}

// Rule evaluates one event against one configured limit. Check may call the
// broker and therefore may block.
type Rule interface {
	Name() string
	Check(ctx context.Context, evt models.Event, cfg config.RuleConfig, deps Deps) (Result, error)
}

// registry maps rule names to constructors. Populated by init funcs in this
// package.
var registry = map[string]func() Rule{}

func register(name string, factory func() Rule) {
	registry[name] = factory
}

// LoadError reports a config rule name that matched no registered rule.
type LoadError struct {
	Name string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("rule %q is not registered", e.Name)
}

// FromConfig instantiates the enabled rules in config-declaration order.
// Unknown names are returned as LoadErrors alongside the rules that did load.
func FromConfig(cfg *config.Config) ([]Rule, []error) {
	var (
		loaded []Rule
		errs   []error
	)
	for _, name := range cfg.Rules.Names() {
		rc, _ := cfg.Rules.Get(name)
		if !rc.Enabled {
			continue
		}
		factory, ok := registry[name]
		if !ok {
			errs = append(errs, &LoadError{Name: name})
			continue
		}
		loaded = append(loaded, factory())
	}
	return loaded, errs
}

// Registered returns the names of all compiled-in rules.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
