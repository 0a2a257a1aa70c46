package store

import "context"

// RecordStore is an append-only log of records keyed by an id field.
// Upsert appends a superseding record for the same key; reads return the
// latest record per key. Compact rewrites the log dropping superseded
// entries and returns the bytes reclaimed.
//
// Implementations assume a single writer process; sequencing within one
// worker iteration is the only consistency mechanism.
type RecordStore[T any] interface {
	Append(ctx context.Context, rec T) error
	ReadAll(ctx context.Context) ([]T, error)
	Filter(ctx context.Context, pred func(T) bool) ([]T, error)
	FindByID(ctx context.Context, id string) (T, bool, error)
	Upsert(ctx context.Context, rec T) error
	DeleteWhere(ctx context.Context, pred func(T) bool) (int, error)
	Compact(ctx context.Context) (int64, error)
}

// KeyFunc extracts the record key used for upsert/compaction.
type KeyFunc[T any] func(T) string

func dedupeByKey[T any](recs []T, key KeyFunc[T]) []T {
	last := make(map[string]int, len(recs))
	for i, r := range recs {
		last[key(r)] = i
	}
	out := make([]T, 0, len(last))
	for i, r := range recs {
		if last[key(r)] == i {
			out = append(out, r)
		}
	}
	return out
}
