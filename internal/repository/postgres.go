package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rejoinderhq/rejoinder/internal/model"
)

// PostgresEventRepository implements EventRepository on a pgx pool.
// Every append becomes one row with the batch serialized as JSONB;
// the serial id orders appends.
type PostgresEventRepository struct {
	pool    *pgxpool.Pool
	storeID string
	actorID string
}

// NewPostgresEventRepository creates the repository and its schema.
// The schema statements are idempotent, so startup is safe to repeat.
func NewPostgresEventRepository(ctx context.Context, pool *pgxpool.Pool, storeID, actorID string) (*PostgresEventRepository, error) {
	r := &PostgresEventRepository{
		pool:    pool,
		storeID: storeID,
		actorID: actorID,
	}

	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *PostgresEventRepository) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_batches (
			id              BIGSERIAL PRIMARY KEY,
			store_id        TEXT NOT NULL,
			actor_id        TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			events          JSONB NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS conversation_batches_lookup_idx
			ON conversation_batches (store_id, actor_id, conversation_id, id DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("repository: schema: %w", err)
		}
	}

	return nil
}

func (r *PostgresEventRepository) AppendBatch(ctx context.Context, conversationID string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("repository: encode batch for conversation %q: %w", conversationID, err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO conversation_batches (store_id, actor_id, conversation_id, events)
		 VALUES ($1, $2, $3, $4)`,
		r.storeID, r.actorID, conversationID, payload)
	if err != nil {
		return fmt.Errorf("repository: append batch for conversation %q: %w", conversationID, err)
	}

	return nil
}

func (r *PostgresEventRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Event, error) {
	// LIMIT NULL means no limit.
	var sqlLimit any
	if limit > 0 {
		sqlLimit = limit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT events FROM conversation_batches
		 WHERE store_id = $1 AND actor_id = $2 AND conversation_id = $3
		 ORDER BY id DESC
		 LIMIT $4`,
		r.storeID, r.actorID, conversationID, sqlLimit)
	if err != nil {
		return nil, fmt.Errorf("repository: list batches for conversation %q: %w", conversationID, err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("repository: scan batch for conversation %q: %w", conversationID, err)
		}

		var batch []model.Event
		if err := json.Unmarshal(payload, &batch); err != nil {
			return nil, fmt.Errorf("repository: decode batch for conversation %q: %w", conversationID, err)
		}
		events = append(events, batch...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: list batches for conversation %q: %w", conversationID, err)
	}

	return events, nil
}
