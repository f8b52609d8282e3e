package history

import "errors"

// Sentinel errors for history operations.
var (
	// ErrUnsupportedKind means the kind has no history table.
	ErrUnsupportedKind = errors.New("history: unsupported kind")

	// ErrNoTrends means trends were requested for a kind that keeps none.
	ErrNoTrends = errors.New("history: kind keeps no trends")
)
