package domain

import "context"

type StateRepository interface {
	// Load returns every persisted account. A missing store yields an empty ledger.
	Load(ctx context.Context) (Ledger, error)

	// Save persists the ledger. Stores never drop days or tasks they already hold.
	Save(ctx context.Context, ledger Ledger) error
}

type StatsWriter interface {
	WriteStats(ctx context.Context, stats *RunStats) error
}
