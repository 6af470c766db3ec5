// Package options holds the contract every policy-watcher option group
// implements, plus helpers the daemon uses to treat the groups uniformly.
//
// Each group lives in its own sub-package (watcher, redis, etcd, tracing...)
// and registers its flags under a dotted section name, so the flag
// "--redis.addr" and the config key "redis.addr" map to the same field.
package options

import (
	"strings"

	"github.com/spf13/pflag"
)

// IOptions is one option group of the daemon.
type IOptions interface {
	// Validate reports every invalid field, not only the first.
	Validate() []error

	// AddFlags registers the group's flags on fs under the section built
	// from prefixes and the group name.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// Completer is implemented by groups that derive defaults from other fields
// after flags and config have been read.
type Completer interface {
	Complete() error
}

// Join builds a flag section: Join("redis") is "redis." and
// Join("peer", "redis") is "peer.redis.". No prefixes yield "".
func Join(prefixes ...string) string {
	joined := strings.Join(prefixes, ".")
	if joined != "" {
		joined += "."
	}
	return joined
}

// ValidateAll collects the errors of every group, skipping nil groups.
func ValidateAll(groups ...IOptions) []error {
	var errs []error
	for _, g := range groups {
		if g == nil {
			continue
		}
		errs = append(errs, g.Validate()...)
	}
	return errs
}

// CompleteAll completes every group that implements Completer, stopping at
// the first failure.
func CompleteAll(groups ...IOptions) error {
	for _, g := range groups {
		c, ok := g.(Completer)
		if !ok {
			continue
		}
		if err := c.Complete(); err != nil {
			return err
		}
	}
	return nil
}
