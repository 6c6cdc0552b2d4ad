package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fmx/matrix-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Each save replaces the user's full position set inside one transaction,
// matching the write-through contract. Monetary values are stored as
// NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Init creates the positions table if it does not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS matrix_positions (
			user_id    TEXT        NOT NULL,
			id         TEXT        NOT NULL,
			level      INT         NOT NULL,
			amount     NUMERIC     NOT NULL,
			filled     INT         NOT NULL,
			members    JSONB       NOT NULL,
			cycled     BOOLEAN     NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			cycled_at  TIMESTAMPTZ,
			PRIMARY KEY (user_id, id)
		)`)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, userID string, positions []model.Position) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("store: begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM matrix_positions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("store: clear positions: %w", err)
	}

	for _, p := range positions {
		members, err := json.Marshal(p.Members)
		if err != nil {
			return fmt.Errorf("store: encode members: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO matrix_positions
				(user_id, id, level, amount, filled, members, cycled, created_at, cycled_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9)`,
			userID, p.ID, p.Level, p.Amount.String(), p.Filled,
			members, p.Cycled, p.CreatedAt, p.CycledAt,
		); err != nil {
			return fmt.Errorf("store: insert position %s: %w", p.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Load(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, level, amount::TEXT, filled, members, cycled, created_at, cycled_at
		 FROM matrix_positions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: load positions: %w", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var (
			p        model.Position
			amountS  string
			membersB []byte
			cycledAt *time.Time
		)
		if err := rows.Scan(&p.ID, &p.Level, &amountS, &p.Filled,
			&membersB, &p.Cycled, &p.CreatedAt, &cycledAt); err != nil {
			return nil, err
		}

		amount, err := decimal.NewFromString(amountS)
		if err != nil {
			// Corrupt row: skip it rather than failing the whole load.
			slog.Warn("discarding corrupt position row", "user", userID, "id", p.ID, "err", err)
			continue
		}
		p.Amount = amount

		if err := json.Unmarshal(membersB, &p.Members); err != nil {
			slog.Warn("discarding corrupt position row", "user", userID, "id", p.ID, "err", err)
			continue
		}
		p.CycledAt = cycledAt

		positions = append(positions, p)
	}
	return positions, rows.Err()
}
