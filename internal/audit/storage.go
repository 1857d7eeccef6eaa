package audit

import "context"

// Storage is the append-only backing store for chain entries. Per the
// in-memory/database-backed storage parity design note, every
// implementation must behave identically under the same test suite:
// Append never reorders or mutates existing entries, and LoadAll returns
// entries in insertion order.
type Storage interface {
	Append(ctx context.Context, e Entry) error
	LoadAll(ctx context.Context) ([]Entry, error)
	Last(ctx context.Context) (*Entry, error)
}
