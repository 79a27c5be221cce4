package storage

import "context"

// BaselineWriter records boot baselines
type BaselineWriter interface {
	Save(ctx context.Context, rec Record) (revision int64, err error)
}

// BaselineReader queries recorded baselines
type BaselineReader interface {
	Latest(ctx context.Context) (*Record, error)
	Get(ctx context.Context, revision int64) (*Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
}

// Compactor handles storage compaction
type Compactor interface {
	Compact(ctx context.Context, keepRevisions int64) error
}

// Lifecycle manages storage lifecycle
type Lifecycle interface {
	Close() error
}

// Storage is the complete baseline history interface
type Storage interface {
	BaselineWriter
	BaselineReader
	Compactor
	Lifecycle
	CurrentRevision() int64
}

var _ Storage = (*BaselineStore)(nil)
