package repo

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AndreiStanca/account-supervisor/internal/model"
)

// PostgresInboundRepo persists committed inbound batches. It satisfies the
// inbound buffer's sink contract directly.
type PostgresInboundRepo struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewPostgresInboundRepo(db *pgxpool.Pool) *PostgresInboundRepo {
	return &PostgresInboundRepo{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// CommitBatch inserts the whole batch in one statement. Conflicts on the
// (account_id, chat_id, message_id) key are ignored; the Redis dedup layer
// is a fast path, this constraint is the durable one.
func (r *PostgresInboundRepo) CommitBatch(ctx context.Context, batch []model.InboundMessage) error {
	if len(batch) == 0 {
		return nil
	}

	b := r.sb.
		Insert("inbound_messages").
		Columns("account_id", "chat_id", "message_id", "body", "contact_name", "from_me", "has_media", "received_at").
		Suffix("ON CONFLICT (account_id, chat_id, message_id) DO NOTHING")
	for _, m := range batch {
		b = b.Values(m.AccountID, m.ChatID, m.MessageID, m.Body, m.ContactName, m.FromMe, m.HasMedia, m.Timestamp)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, query, args...)
	return err
}
