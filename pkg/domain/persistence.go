package domain

import "context"

// RunStore is the durable run ledger used by the service layer.
type RunStore interface {
	// SaveRun inserts or replaces the run with the same ID.
	SaveRun(ctx context.Context, run Run) error
	// GetRun returns ErrRunNotFound when the ID is unknown.
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]Run, error)
	// DeleteRun reports whether a run was removed.
	DeleteRun(ctx context.Context, id string) (bool, error)
	Close() error
}
