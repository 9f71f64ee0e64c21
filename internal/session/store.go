package session

import (
	"context"
	"time"
)

// Metadata is the status information stored alongside credential material.
type Metadata struct {
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Status    string    `json:"status"`
	Tier      string    `json:"tier,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Entry is what List returns per persisted account.
type Entry struct {
	AccountID string
	Metadata  Metadata
	UpdatedAt time.Time
}

// Store persists per-account authentication material so accounts survive
// process restarts without a fresh authentication handshake.
type Store interface {
	Save(ctx context.Context, accountID string, creds []byte, meta Metadata) error
	// Restore returns nil creds (and no error) when the account has no
	// persisted credential material.
	Restore(ctx context.Context, accountID string) ([]byte, error)
	Delete(ctx context.Context, accountID string) error
	List(ctx context.Context) ([]Entry, error)
}
