package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SQLite is a Queue over a shared sqlite handle. Visibility is implemented
// with a visible_at column: dequeued rows are pushed into the future and
// reappear automatically when the timeout elapses.
type SQLite struct {
	db     *sql.DB
	name   string
	logger *slog.Logger
	now    func() time.Time

	provision    sync.Once
	provisionErr error
}

func NewSQLite(db *sql.DB, name string, logger *slog.Logger) *SQLite {
	return &SQLite{db: db, name: name, logger: logger, now: time.Now}
}

func (q *SQLite) ensureSchema(ctx context.Context) error {
	q.provision.Do(func() {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS tasks (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                queue TEXT NOT NULL,
                payload BLOB NOT NULL,
                visible_at INTEGER NOT NULL,
                deliveries INTEGER NOT NULL DEFAULT 0
            );`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_queue_visible ON tasks(queue, visible_at);`,
			`CREATE TABLE IF NOT EXISTS dead_tasks (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                queue TEXT NOT NULL,
                payload BLOB NOT NULL,
                deliveries INTEGER NOT NULL,
                failed_at INTEGER NOT NULL
            );`,
		}
		for _, statement := range statements {
			if _, q.provisionErr = q.db.ExecContext(ctx, statement); q.provisionErr != nil {
				return
			}
		}
	})
	if q.provisionErr != nil {
		return fmt.Errorf("provision queue %s: %w", q.name, q.provisionErr)
	}
	return nil
}

func (q *SQLite) Enqueue(ctx context.Context, task Task) error {
	if err := q.ensureSchema(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, `INSERT INTO tasks (queue, payload, visible_at, deliveries)
        VALUES (?, ?, ?, 0);`,
		q.name, payload, q.now().Unix()); err != nil {
		return fmt.Errorf("enqueue on %s: %w", q.name, err)
	}
	return nil
}

func (q *SQLite) Dequeue(ctx context.Context, batch int, visibility time.Duration) ([]Message, error) {
	if err := q.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if batch <= 0 {
		batch = 1
	}
	now := q.now()

	rows, err := q.db.QueryContext(ctx, `SELECT id, payload, deliveries FROM tasks
        WHERE queue = ? AND visible_at <= ?
        ORDER BY id LIMIT ?;`,
		q.name, now.Unix(), batch)
	if err != nil {
		return nil, fmt.Errorf("dequeue from %s: %w", q.name, err)
	}

	type row struct {
		id         int64
		payload    []byte
		deliveries int
	}
	var candidates []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.payload, &r.deliveries); err != nil {
			rows.Close()
			return nil, fmt.Errorf("dequeue from %s: %w", q.name, err)
		}
		candidates = append(candidates, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dequeue from %s: %w", q.name, err)
	}

	var messages []Message
	for _, candidate := range candidates {
		var task Task
		if err := json.Unmarshal(candidate.payload, &task); err != nil {
			// Poison message: it can never be processed, drop it now
			// instead of redelivering it forever.
			q.logger.Warn("dropping unparseable queue message",
				"queue", q.name, "id", candidate.id, "error", err)
			if _, err := q.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, candidate.id); err != nil {
				return nil, fmt.Errorf("drop poison message: %w", err)
			}
			continue
		}

		deliveries := candidate.deliveries + 1
		if deliveries > MaxDeliveries {
			q.logger.Warn("dead-lettering queue message",
				"queue", q.name, "id", candidate.id, "deliveries", candidate.deliveries)
			if err := q.deadLetter(ctx, candidate.id, candidate.payload, candidate.deliveries, now); err != nil {
				return nil, err
			}
			continue
		}

		if _, err := q.db.ExecContext(ctx, `UPDATE tasks SET visible_at = ?, deliveries = ? WHERE id = ?;`,
			now.Add(visibility).Unix(), deliveries, candidate.id); err != nil {
			return nil, fmt.Errorf("hide message %d: %w", candidate.id, err)
		}
		messages = append(messages, Message{ID: candidate.id, Task: task, Deliveries: deliveries})
	}
	return messages, nil
}

func (q *SQLite) deadLetter(ctx context.Context, id int64, payload []byte, deliveries int, now time.Time) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dead-letter message %d: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO dead_tasks (queue, payload, deliveries, failed_at)
        VALUES (?, ?, ?, ?);`,
		q.name, payload, deliveries, now.Unix()); err != nil {
		return fmt.Errorf("dead-letter message %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("dead-letter message %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dead-letter message %d: %w", id, err)
	}
	return nil
}

func (q *SQLite) Delete(ctx context.Context, message Message) error {
	if err := q.ensureSchema(ctx); err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, message.ID); err != nil {
		return fmt.Errorf("delete message %d: %w", message.ID, err)
	}
	return nil
}
