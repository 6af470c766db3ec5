// Package main is the entry point for the policy-watcher service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/policy-watcher/internal/watchd"
)

func main() {
	watchd.NewApp().Run()
}
