package repo

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AndreiStanca/account-supervisor/internal/model"
)

type PostgresOutboundRepo struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewPostgresOutboundRepo(db *pgxpool.Pool) *PostgresOutboundRepo {
	return &PostgresOutboundRepo{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *PostgresOutboundRepo) Enqueue(ctx context.Context, msg *model.OutboundMessage) error {
	if msg.ID == "" {
		return errors.New("outbound message id must not be empty")
	}

	query, args, err := r.sb.
		Insert("outbound_messages").
		Columns("id", "account_id", "recipient", "payload", "priority", "status", "attempt_count", "created_at").
		Values(msg.ID, msg.AccountID, msg.Recipient, msg.Payload, msg.Priority, string(msg.Status), msg.AttemptCount, msg.CreatedAt).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, query, args...)
	return err
}

func (r *PostgresOutboundRepo) ListQueued(ctx context.Context, accountID string, limit int) ([]model.OutboundMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	query, args, err := r.sb.
		Select("id", "account_id", "recipient", "payload", "priority", "status",
			"attempt_count", "created_at", "last_attempt_at", "sent_at", "last_error").
		From("outbound_messages").
		Where(sq.Eq{"account_id": accountID, "status": string(model.Queued)}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OutboundMessage
	for rows.Next() {
		var (
			m      model.OutboundMessage
			status string
		)
		if err := rows.Scan(
			&m.ID,
			&m.AccountID,
			&m.Recipient,
			&m.Payload,
			&m.Priority,
			&status,
			&m.AttemptCount,
			&m.CreatedAt,
			&m.LastAttemptAt,
			&m.SentAt,
			&m.LastError,
		); err != nil {
			return nil, err
		}
		m.Status = model.Status(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresOutboundRepo) MarkSending(ctx context.Context, id string) error {
	return r.exec(ctx, r.sb.
		Update("outbound_messages").
		Set("status", string(model.Sending)).
		Set("last_attempt_at", time.Now().UTC()).
		Set("attempt_count", sq.Expr("attempt_count + 1")).
		Where(sq.Eq{"id": id}))
}

func (r *PostgresOutboundRepo) MarkSent(ctx context.Context, id, ackID string) error {
	return r.exec(ctx, r.sb.
		Update("outbound_messages").
		Set("status", string(model.Sent)).
		Set("ack_id", ackID).
		Set("sent_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}))
}

func (r *PostgresOutboundRepo) Requeue(ctx context.Context, id, reason string) error {
	return r.exec(ctx, r.sb.
		Update("outbound_messages").
		Set("status", string(model.Queued)).
		Set("last_error", reason).
		Where(sq.Eq{"id": id}))
}

func (r *PostgresOutboundRepo) MarkFailed(ctx context.Context, id, reason string) error {
	return r.exec(ctx, r.sb.
		Update("outbound_messages").
		Set("status", string(model.Failed)).
		Set("last_error", reason).
		Where(sq.Eq{"id": id}))
}

func (r *PostgresOutboundRepo) PurgeAccount(ctx context.Context, accountID string) error {
	query, args, err := r.sb.
		Delete("outbound_messages").
		Where(sq.Eq{"account_id": accountID}).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, query, args...)
	return err
}

func (r *PostgresOutboundRepo) exec(ctx context.Context, b sq.UpdateBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, query, args...)
	return err
}
