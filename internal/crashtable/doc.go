// Package crashtable stores crash entries in a fixed number of shards,
// each guarded by its own mutex, so that unrelated executables and users
// never contend on the same lock.
//
// Every entry carries exactly one deadline. Rearming an entry replaces
// that deadline; nothing is ever stacked. An entry whose deadline has
// passed is removed either inline, by the next operation that touches
// its key, or by a Reaper sweep, whichever happens first. Both paths run
// under the shard lock, so removal is observed at most once.
//
// Callers never hold a shard lock across a function boundary: Update and
// Upsert take the operation as a closure and release the lock before
// returning.
package crashtable
