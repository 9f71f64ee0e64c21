package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *PostgresStore) Save(ctx context.Context, accountID string, creds []byte, meta Metadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	query, args, err := s.sb.
		Insert("sessions").
		Columns("account_id", "creds", "metadata", "updated_at").
		Values(accountID, creds, metaJSON, time.Now().UTC()).
		Suffix("ON CONFLICT (account_id) DO UPDATE SET creds = EXCLUDED.creds, metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, query, args...)
	return err
}

func (s *PostgresStore) Restore(ctx context.Context, accountID string) ([]byte, error) {
	query, args, err := s.sb.
		Select("creds").
		From("sessions").
		Where(sq.Eq{"account_id": accountID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var creds []byte
	err = s.db.QueryRow(ctx, query, args...).Scan(&creds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *PostgresStore) Delete(ctx context.Context, accountID string) error {
	query, args, err := s.sb.
		Delete("sessions").
		Where(sq.Eq{"account_id": accountID}).
		ToSql()
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, query, args...)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	query, args, err := s.sb.
		Select("account_id", "metadata", "updated_at").
		From("sessions").
		OrderBy("updated_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			metaJSON []byte
		)
		if err := rows.Scan(&e.AccountID, &metaJSON, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
