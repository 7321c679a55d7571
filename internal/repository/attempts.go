package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/gostorefront/internal/ratelimit"
)

// AttemptRepository — хранилище попыток шлюза в таблице rate_attempts.
// Реализует ratelimit.Store.
type AttemptRepository struct {
	tx *TxRunner
	db DBTX
}

var _ ratelimit.Store = (*AttemptRepository)(nil)

// NewAttemptRepository создаёт репозиторий попыток.
func NewAttemptRepository(tx *TxRunner, db DBTX) *AttemptRepository {
	return &AttemptRepository{tx: tx, db: db}
}

// Load возвращает попытки идентичности в порядке возрастания времени.
func (r *AttemptRepository) Load(ctx context.Context, kind ratelimit.Kind, identity string) ([]time.Time, error) {
	rows, err := r.db.Query(ctx,
		`SELECT attempted_at FROM rate_attempts
		 WHERE kind = $1 AND identity = $2
		 ORDER BY attempted_at`,
		string(kind), identity,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса попыток: %w", err)
	}

	attempts, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения попыток: %w", err)
	}
	return attempts, nil
}

// Save заменяет попытки идентичности в одной транзакции.
func (r *AttemptRepository) Save(ctx context.Context, kind ratelimit.Kind, identity string, attempts []time.Time) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM rate_attempts WHERE kind = $1 AND identity = $2`,
			string(kind), identity,
		); err != nil {
			return fmt.Errorf("ошибка удаления попыток: %w", err)
		}
		if len(attempts) == 0 {
			return nil
		}

		rows := make([][]any, len(attempts))
		for i, at := range attempts {
			rows[i] = []any{string(kind), identity, at}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"rate_attempts"},
			[]string{"kind", "identity", "attempted_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("ошибка записи попыток: %w", err)
		}
		return nil
	})
}
