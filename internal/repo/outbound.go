package repo

import (
	"context"

	"github.com/AndreiStanca/account-supervisor/internal/model"
)

// OutboundRepository is the durable queue behind the delivery pipeline.
// Messages land here when a send is deferred and survive process restarts.
type OutboundRepository interface {
	Enqueue(ctx context.Context, msg *model.OutboundMessage) error
	// ListQueued returns queued messages for the account in creation order.
	ListQueued(ctx context.Context, accountID string, limit int) ([]model.OutboundMessage, error)
	// MarkSending flips the message to sending and increments its attempt
	// count in the same statement.
	MarkSending(ctx context.Context, id string) error
	MarkSent(ctx context.Context, id, ackID string) error
	Requeue(ctx context.Context, id, reason string) error
	MarkFailed(ctx context.Context, id, reason string) error
	// PurgeAccount removes all messages for a deleted account.
	PurgeAccount(ctx context.Context, accountID string) error
}
