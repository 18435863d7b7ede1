// Package badgerstore provides an embedded append-only store for terminals
// that must accept offline transactions without reaching any database at
// all. It implements the same store contract as the Postgres engine, backed
// by a local BadgerDB instance with synchronous writes.
package badgerstore
