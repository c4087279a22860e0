// Package sinks implements concrete job event consumers: structured logging,
// the activity audit trail and Prometheus counters. Each sink satisfies
// progress.Sink and is safe for repeated Consume/Close cycles.
package sinks
