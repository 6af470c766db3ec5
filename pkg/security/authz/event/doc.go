// Package event models policy mutations as a closed set of values.
//
// Every mutation of the policy store, and every invalidation of the derived
// decision cache, is described by exactly one of the eight variants below:
//
//	AddPolicy            a single rule inserted
//	AddPolicies          a batch of rules inserted
//	RemovePolicy         a single rule deleted
//	RemovePolicies       a batch of rules deleted
//	RemoveFilteredPolicy rules deleted by field filter
//	SavePolicy           the full policy set persisted
//	ClearPolicy          every rule removed
//	ClearCache           the decision cache invalidated, rules untouched
//
// The Event interface is sealed: only this package can add variants, and the
// interface requires a String method so a new variant cannot be added without
// a rendering. Events are plain values with no behaviour beyond rendering and
// comparison; they are built by the engine at the moment of mutation and
// discarded once a watcher has rendered them.
//
// Usage:
//
//	ev := event.NewAddPolicy("p", "p", "alice", "data1", "read")
//	fmt.Println(ev)      // Type: AddPolicy, Assertion: p::p, Data: [alice, data1, read]
//	fmt.Println(ev.Type().Tag()) // add_policy
package event
