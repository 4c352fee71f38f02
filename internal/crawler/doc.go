// Package crawler holds the shared vocabulary of a crawl: page records,
// snapshots, progress, URL normalization and scoping, typed page errors, and
// the interfaces the engine depends on (fetcher, robots policy, page store,
// blob store, clock, hasher, id generator).
package crawler
