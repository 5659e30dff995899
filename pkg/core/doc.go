// Package core implements the reconciliation and materialization engine.
//
// Reconciliation takes a declared object set, validates it, diffs it against
// the committed registry snapshot for the project, and applies the result:
// infrastructure is updated first, then the registry commit makes the new
// state visible atomically. A conflicting concurrent apply surfaces as a
// conflict error and leaves the registry untouched; a commit failure after
// infrastructure was already changed surfaces as an inconsistency error.
//
// Materialization schedules one asynchronous job per selected feature view
// for a half-open time window, polls the jobs to completion, and records a
// materialization interval for every view whose job succeeded. Failures are
// isolated per view; one failed view never blocks another view's interval
// from being committed.
//
// The package depends only on interfaces: Registry for persistence,
// InfraProvider for the online-store backend, and BatchEngine (through the
// provider) for job execution. Concrete implementations live in the
// registry, provider, and batch packages.
package core
