package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fancyfn/fancy/internal/cell"
	"github.com/fancyfn/fancy/internal/types"
)

// uriScheme prefixes every location allocated by the sqlite backend.
const uriScheme = "fancy+sqlite://"

// SQLiteConfig holds sqlite backend configuration options.
type SQLiteConfig struct {
	Path            string        // Database file path
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum connection lifetime
	BusyTimeout     time.Duration // SQLite busy timeout
}

// DefaultSQLiteConfig returns sensible defaults for the sqlite backend.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:            path,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
	}
}

// SQLiteStore is the durable Store backend. Values are JSON documents in
// a locations table keyed by fancy+sqlite:// URIs; the cell index is a
// table of serialized cells upserted on Register. Put returns REFERENCE
// cells so large payloads never travel inline in blueprints.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLite creates a sqlite-backed store at path with default settings.
func OpenSQLite(path string) (*SQLiteStore, error) {
	return OpenSQLiteWithConfig(DefaultSQLiteConfig(path))
}

// OpenSQLiteWithConfig creates a sqlite-backed store with custom
// configuration. Enables WAL mode and a busy timeout for better
// concurrency, then creates the schema if missing.
func OpenSQLiteWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d",
		cfg.Path,
		int(cfg.BusyTimeout.Milliseconds()),
	)

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.WrapError(types.STORAGE_UNAVAILABLE, "failed to open store database", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, types.WrapError(types.STORAGE_UNAVAILABLE, "failed to ping store database", err)
	}

	s := &SQLiteStore{conn: conn, path: cfg.Path}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

// migrate creates the locations and cells tables if they do not exist.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS locations (
	uri        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS cells (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return types.WrapError(types.STORAGE_UNAVAILABLE, "failed to create store schema", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Put writes value as a JSON document at a fresh location and returns a
// registered REFERENCE cell pointing at it. The reference metadata
// carries the payload size and, for lists, the element count, without
// requiring a load of the payload.
func (s *SQLiteStore) Put(ctx context.Context, value any, label string) (*cell.Cell, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, types.WrapError(types.STORAGE_UNAVAILABLE, "value is not JSON-representable", err)
	}

	uri := uriScheme + uuid.New().String()
	if _, err := s.conn.ExecContext(ctx,
		`INSERT INTO locations (uri, payload) VALUES (?, ?)`, uri, string(payload)); err != nil {
		return nil, types.WrapError(types.STORAGE_UNAVAILABLE, "failed to write value", err)
	}

	meta := map[string]any{"bytes": len(payload)}
	if list, ok := value.([]any); ok {
		meta["items"] = len(list)
	}

	c := cell.NewReference(uri, label, typeHintOf(value), meta)
	if err := s.Register(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Resolve returns the concrete value behind a cell. See Store.Resolve.
func (s *SQLiteStore) Resolve(ctx context.Context, c *cell.Cell, recursive bool) (any, error) {
	switch c.Kind {
	case cell.KindValue:
		return c.Value, nil

	case cell.KindReference:
		return s.load(ctx, c)

	case cell.KindComposite:
		return resolveComposite(ctx, s, c, recursive)

	case cell.KindPending:
		return nil, types.NewErrorf(types.CELL_NOT_READY,
			"cell %s (%s) has not been produced yet", c.ID, c.Label)

	default:
		return nil, types.NewErrorf(types.CELL_NOT_READY,
			"cell %s has unknown storage kind %q", c.ID, c.Kind)
	}
}

// Children returns the child cell objects of a composite in order.
func (s *SQLiteStore) Children(ctx context.Context, c *cell.Cell) ([]*cell.Cell, error) {
	return childCells(ctx, s, c)
}

// Register upserts a cell document into the cells table.
func (s *SQLiteStore) Register(ctx context.Context, c *cell.Cell) error {
	if err := c.ID.Validate(); err != nil {
		return types.WrapError(types.WORKFLOW_INVALID, "cannot register cell without valid id", err)
	}

	doc, err := json.Marshal(c)
	if err != nil {
		return types.WrapError(types.STORAGE_UNAVAILABLE, "failed to serialize cell", err)
	}

	_, err = s.conn.ExecContext(ctx, `
INSERT INTO cells (id, doc, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		c.ID.String(), string(doc))
	if err != nil {
		return types.WrapError(types.STORAGE_UNAVAILABLE, "failed to register cell", err)
	}
	return nil
}

// Cell fetches a cell document from the index by ID.
func (s *SQLiteStore) Cell(ctx context.Context, id types.ID) (*cell.Cell, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx,
		`SELECT doc FROM cells WHERE id = ?`, id.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewErrorf(types.CELL_NOT_FOUND, "no cell with id %s", id)
	}
	if err != nil {
		return nil, types.WrapError(types.STORAGE_UNAVAILABLE, "failed to query cell", err)
	}

	var c cell.Cell
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, types.WrapError(types.STORAGE_UNAVAILABLE, "failed to decode cell document", err)
	}
	return &c, nil
}

// load reads and decodes the JSON payload behind a REFERENCE cell.
func (s *SQLiteStore) load(ctx context.Context, c *cell.Cell) (any, error) {
	if !strings.HasPrefix(c.RefURI, uriScheme) {
		return nil, types.NewErrorf(types.REFERENCE_NOT_FOUND,
			"cell %s references %q which is not a %s location", c.ID, c.RefURI, uriScheme)
	}

	var payload string
	err := s.conn.QueryRowContext(ctx,
		`SELECT payload FROM locations WHERE uri = ?`, c.RefURI).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewErrorf(types.REFERENCE_NOT_FOUND, "no value at %s", c.RefURI)
	}
	if err != nil {
		return nil, types.WrapError(types.STORAGE_UNAVAILABLE, "failed to load value", err)
	}

	var value any
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return nil, types.WrapError(types.STORAGE_UNAVAILABLE, "failed to decode value payload", err)
	}
	return value, nil
}
