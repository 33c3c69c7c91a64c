package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/rejoinderhq/rejoinder/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversation_batches (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	store_id        TEXT NOT NULL,
	actor_id        TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	events          TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS conversation_batches_lookup_idx
	ON conversation_batches (store_id, actor_id, conversation_id, id DESC);
`

// SQLiteEventRepository implements EventRepository on an embedded
// SQLite database, for single-node deployments without an external
// store. Individual connections come from a fixed-size pool; each
// call takes its own connection and returns it when done.
type SQLiteEventRepository struct {
	pool    *sqlitex.Pool
	storeID string
	actorID string
}

// NewSQLiteEventRepository opens the database at path, creating the
// file and schema if needed. The caller must Close the repository
// when it is no longer needed. Use ":memory:" for tests.
func NewSQLiteEventRepository(path, storeID, actorID string) (*SQLiteEventRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("repository: sqlite path is required")
	}

	poolSize := runtime.NumCPU()
	if poolSize < 4 {
		poolSize = 4
	}
	if path == ":memory:" {
		// Each in-memory connection is an independent database.
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareSQLiteConn,
	})
	if err != nil {
		return nil, fmt.Errorf("repository: opening %s: %w", path, err)
	}

	return &SQLiteEventRepository{
		pool:    pool,
		storeID: storeID,
		actorID: actorID,
	}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (r *SQLiteEventRepository) Close() error {
	return r.pool.Close()
}

func prepareSQLiteConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("repository: %s: %w", pragma, err)
		}
	}

	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("repository: sqlite schema: %w", err)
	}

	return nil
}

func (r *SQLiteEventRepository) AppendBatch(ctx context.Context, conversationID string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("repository: encode batch for conversation %q: %w", conversationID, err)
	}

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("repository: append batch for conversation %q: %w", conversationID, err)
	}
	defer r.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO conversation_batches (store_id, actor_id, conversation_id, events, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{r.storeID, r.actorID, conversationID, string(payload), time.Now().UnixNano()},
		})
	if err != nil {
		return fmt.Errorf("repository: append batch for conversation %q: %w", conversationID, err)
	}

	return nil
}

func (r *SQLiteEventRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Event, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: list batches for conversation %q: %w", conversationID, err)
	}
	defer r.pool.Put(conn)

	// SQLite treats a negative LIMIT as unlimited.
	sqlLimit := limit
	if sqlLimit <= 0 {
		sqlLimit = -1
	}

	var events []model.Event
	err = sqlitex.Execute(conn,
		`SELECT events FROM conversation_batches
		 WHERE store_id = ? AND actor_id = ? AND conversation_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{r.storeID, r.actorID, conversationID, sqlLimit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var batch []model.Event
				if err := json.Unmarshal([]byte(stmt.ColumnText(0)), &batch); err != nil {
					return fmt.Errorf("decode batch: %w", err)
				}
				events = append(events, batch...)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("repository: list batches for conversation %q: %w", conversationID, err)
	}

	return events, nil
}
