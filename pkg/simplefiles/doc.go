// Package simplefiles manages titled, versioned binary files backed by a
// chunked blob store and a metadata record store.
//
// A FileRecord is keyed by its human-assigned title and points at exactly one
// blob object. Create writes the first blob and record for a title; Update
// writes a replacement blob, swaps the record's pointer to it, and only then
// deletes the previous blob. At no observable instant does a record point at a
// blob that has already been deleted.
//
// # Consistency Model
//
// The record store and the blob store are separate systems and no transaction
// spans them. Failures after a blob write leave an orphaned blob rather than a
// dangling record. Orphans are reported through the EventSink so operators can
// reap them. Writers on the same title are serialized by a TitleLocker and
// every record update is a compare-and-swap on FileRecord.Version.
//
// Repository implementations (memory, Postgres, SQLite) and blob stores
// (memory, filesystem, S3) are provided under subpackages.
package simplefiles
