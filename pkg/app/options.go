// Package app defines what an application's options must provide to be run
// by pkg/infra/app.
package app

import "github.com/kart-io/policy-watcher/pkg/app/cliflag"

// CliOptions is the interface for CLI options.
// Any options struct implementing this interface can be used with App.
type CliOptions interface {
	// Flags returns the flags grouped by section.
	Flags() cliflag.NamedFlagSets
	// Validate validates the options.
	Validate() error
	// Complete completes the options with defaults.
	Complete() error
}

// PrintableOptions is an optional interface for options that can print themselves.
type PrintableOptions interface {
	String() string
}
