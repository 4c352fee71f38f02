// Package sinks implements concrete progress consumers: structured logging,
// Prometheus metrics, Pub/Sub publication, crawl run bookkeeping and plain
// callbacks. Each sink satisfies progress.Sink.
package sinks
