// Package progress streams search-run milestones to listeners. A Broker keys
// sessions by id and replays each session's history to late subscribers; a Hub
// batches every event on a background goroutine and fans them out to pluggable
// sinks such as structured logs or Prometheus counters.
package progress
