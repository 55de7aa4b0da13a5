package localqueue

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLitePersistence stores the queue in a local SQLite database.
type SQLitePersistence struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLitePersistence, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localqueue: open sqlite: %w", err)
	}
	// One writer keeps SQLite from reporting SQLITE_BUSY across pooled connections.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("localqueue: ping sqlite: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLitePersistence{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("localqueue: migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("localqueue: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("localqueue: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("localqueue: run migrations: %w", err)
	}
	return nil
}

// Load implements Persistence.
func (p *SQLitePersistence) Load(ctx context.Context) (Snapshot, error) {
	snapshot := Snapshot{Version: snapshotVersion}

	rows, err := p.db.QueryContext(ctx, `SELECT payload FROM queued_orders ORDER BY position`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return Snapshot{}, fmt.Errorf("scan order: %w", err)
		}
		var record Record
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return Snapshot{}, fmt.Errorf("decode order: %w", err)
		}
		snapshot.Orders = append(snapshot.Orders, record)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	keyRows, err := p.db.QueryContext(ctx, `SELECT idempotency_key, processed_at FROM processed_keys ORDER BY processed_at`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query processed keys: %w", err)
	}
	defer keyRows.Close()
	for keyRows.Next() {
		var key, at string
		if err := keyRows.Scan(&key, &at); err != nil {
			return Snapshot{}, fmt.Errorf("scan processed key: %w", err)
		}
		processedAt, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			continue
		}
		snapshot.Processed = append(snapshot.Processed, ProcessedKey{Key: key, ProcessedAt: processedAt})
	}
	return snapshot, keyRows.Err()
}

// Save implements Persistence.
func (p *SQLitePersistence) Save(ctx context.Context, snapshot Snapshot) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM queued_orders`); err != nil {
		return fmt.Errorf("clear orders: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM processed_keys`); err != nil {
		return fmt.Errorf("clear processed keys: %w", err)
	}
	for i, record := range snapshot.Orders {
		payload, marshalErr := json.Marshal(record)
		if marshalErr != nil {
			err = fmt.Errorf("encode order: %w", marshalErr)
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO queued_orders (position, idempotency_key, status, created_at, payload) VALUES (?, ?, ?, ?, ?)`,
			i, record.IdempotencyKey, record.Status, record.CreatedAt.UTC().Format(time.RFC3339Nano), string(payload),
		); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
	}
	for _, entry := range snapshot.Processed {
		if _, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO processed_keys (idempotency_key, processed_at) VALUES (?, ?)`,
			entry.Key, entry.ProcessedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert processed key: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Clear implements Persistence.
func (p *SQLitePersistence) Clear(ctx context.Context) error {
	return p.Save(ctx, Snapshot{})
}

// Close releases the database handle.
func (p *SQLitePersistence) Close() error {
	return p.db.Close()
}
