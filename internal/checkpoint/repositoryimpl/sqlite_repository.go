package repositoryimpl

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mikaelliljedahl/prfactory/internal/checkpoint"
	"github.com/mikaelliljedahl/prfactory/pkg/cerr"
)

//go:embed schema/schema.sql
var schemaSQL string

// SQLiteRepository stores checkpoints in a SQLite database. Every write is a
// single statement or transaction, so a crash never leaves a half-written row.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

const selectColumns = `SELECT id, ticket_id, agent_name, timestamp, status, payload FROM checkpoints`

func scanCheckpoint(row interface{ Scan(...any) error }) (*checkpoint.Checkpoint, error) {
	var (
		c  checkpoint.Checkpoint
		ts int64
	)
	if err := row.Scan(&c.ID, &c.TicketID, &c.AgentName, &ts, &c.Status, &c.Payload); err != nil {
		return nil, err
	}
	c.Timestamp = time.Unix(0, ts).UTC()
	return &c, nil
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...any) ([]*checkpoint.Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("query checkpoints: %w", err))
	}
	defer rows.Close()

	var out []*checkpoint.Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("scan checkpoint: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("iterate checkpoints: %w", err))
	}
	return out, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, c *checkpoint.Checkpoint) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, ticket_id, agent_name, timestamp, status, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			status = excluded.status,
			payload = excluded.payload
		WHERE checkpoints.ticket_id = excluded.ticket_id AND checkpoints.agent_name = excluded.agent_name`,
		c.ID, c.TicketID, c.AgentName, c.Timestamp.UnixNano(), string(c.Status), c.Payload,
	)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("save checkpoint: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cerr.NewError(cerr.InvalidArgument, "checkpoint belongs to another ticket or agent", nil)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, ticketID, id string) (*checkpoint.Checkpoint, error) {
	c, err := scanCheckpoint(r.db.QueryRowContext(ctx, selectColumns+` WHERE ticket_id = ? AND id = ?`, ticketID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.NewError(cerr.NotFound, "checkpoint not found", err)
	}
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("get checkpoint: %w", err))
	}
	return c, nil
}

func (r *SQLiteRepository) GetLatest(ctx context.Context, ticketID, agentName string) (*checkpoint.Checkpoint, error) {
	c, err := scanCheckpoint(r.db.QueryRowContext(ctx,
		selectColumns+` WHERE ticket_id = ? AND agent_name = ? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		ticketID, agentName,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.NewError(cerr.NotFound, "checkpoint not found", err)
	}
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("get latest checkpoint: %w", err))
	}
	return c, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context, ticketID string) ([]*checkpoint.Checkpoint, error) {
	return r.query(ctx, selectColumns+` WHERE ticket_id = ? ORDER BY timestamp DESC, id DESC`, ticketID)
}

func (r *SQLiteRepository) UpdateStatus(ctx context.Context, ticketID, id string, status checkpoint.Status) error {
	res, err := r.db.ExecContext(ctx, `UPDATE checkpoints SET status = ? WHERE ticket_id = ? AND id = ?`, string(status), ticketID, id)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("update checkpoint: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cerr.NewError(cerr.NotFound, "checkpoint not found", nil)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, ticketID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE ticket_id = ? AND id = ?`, ticketID, id)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("delete checkpoint: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cerr.NewError(cerr.NotFound, "checkpoint not found", nil)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAllForTicket(ctx context.Context, ticketID string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE ticket_id = ?`, ticketID)
	if err != nil {
		return 0, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("delete checkpoints: %w", err))
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("commit: %w", err))
	}
	return int(n), nil
}

func (r *SQLiteRepository) ListBefore(ctx context.Context, cutoff time.Time) ([]*checkpoint.Checkpoint, error) {
	return r.query(ctx, selectColumns+` WHERE timestamp < ? ORDER BY timestamp DESC, id DESC`, cutoff.UnixNano())
}
