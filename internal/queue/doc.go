// Package queue persists work items in SQLite and implements the compare-and-set
// claim protocol every stage uses to take exclusive ownership of an item.
//
// A claim is a single conditional UPDATE keyed on the expected current status.
// Exactly one of any number of concurrent claimants observes a row count of one;
// the rest see zero and drop the work. Legal status changes are confined to the
// transition table in models.go.
package queue
