package cache

import "context"

// DedupCache answers "has this inbound message been seen before?" and
// records it in the same call. Implementations must be safe for concurrent
// use from any account's event handler.
type DedupCache interface {
	// Seen returns true if (accountID, chatID, messageID) was recorded
	// before; a false return records it.
	Seen(ctx context.Context, accountID, chatID, messageID string) (bool, error)
	// Forget drops all recorded ids for an account.
	Forget(ctx context.Context, accountID string) error
}
