// Package progress carries job lifecycle events from the submission and
// reconciliation services to pluggable sinks. A Hub batches events on a
// background goroutine so emitters never block on logging or auditing.
package progress
