// Package syncres provides named, priority-tagged locks with bounded
// acquisition.
//
// A Lock is a mutual-exclusion primitive that can be acquired with a
// timeout or a context deadline. Failing to acquire is an ordinary
// outcome reported to the caller, never a panic: callers decide whether
// to skip the protected section or fail their operation.
//
// Locks are obtained from a Registry keyed by logical name. The process
// has one global registry for locks shared across worker goroutines;
// schedulers create scoped registries whose locks must not outlive the
// scheduler, and the registry rebuilds a lock transparently if it is
// looked up from a different scope than the one it was created under.
//
// Priority is observability metadata on the acquisition, recorded in
// metrics and logs. It does not affect acquisition order.
package syncres
