// Package store holds the crawl run contract: the runs progress sink writes
// run rows and the API reads them back. Page persistence is crawler.PageStore,
// implemented by the memory, sqlite and postgres subpackages. This package
// must not import database drivers or concrete clients.
package store
