// Package duocache implements a two-tier key-value cache: a bounded
// in-memory LRU tier (see internal/memlru) fronting a durable on-disk
// tier (see internal/diskstore) that adaptively stores each entry either
// inline in a SQLite manifest or as an external file.
//
// Callers open a Cache against a name or a path and a Codec that knows
// how to marshal their value type to and from bytes — serialization of
// user types is the one collaborator this package deliberately leaves to
// the caller.
package duocache
