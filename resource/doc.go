// Package resource provides the host-side resource table.
//
// Resources are host values the guest addresses only by integer id:
// streams, files, connections. Ops that take a rid look the value up
// here; the guest never holds the value itself.
//
// # Resource Ids
//
// Ids are handed out sequentially from 1 and never reused, so a guest
// holding a stale id gets bad_resource instead of silently touching
// whatever was allocated next. Id 0 is always invalid.
//
//	table := resource.NewTable()
//
//	// Add a resource, get its id
//	rid := table.Add(resource.NewBuffer("stdout"))
//
//	// Look it up while serving an op
//	res, ok := table.Get(rid)
//
//	// Tear it down when the guest closes it
//	err := table.Close(rid)
//
// Close on an unknown id returns a bad_resource operation error, which
// ops forward to the guest as-is.
//
// # Streams
//
// Buffer is the built-in stream resource behind the raw read and write
// ops: writes append, reads drain, and an exhausted buffer reads as
// io.EOF, which the read op reports to the guest as n=0.
//
// # Introspection
//
// List reports live ids and names for diagnostics; Each visits
// resources in ascending id order without holding the table lock
// during the visit.
package resource
