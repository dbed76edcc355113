package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/exchange"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName = "sqlite"
	selectColumns    = "SELECT id, event_json FROM events "
)

type sqliteStore struct {
	db  *sql.DB
	cfg *config.StorageConfig
	log logger.Logger
}

func newSQLiteStore(cfg *config.StorageConfig, log logger.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare sqlite directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(absPath))
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %s: %w", stmt, err)
		}
	}

	store := &sqliteStore{db: db, cfg: cfg, log: log}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    timestamp_ns INTEGER NOT NULL,
    server_name TEXT,
    kind TEXT NOT NULL,
    method TEXT NOT NULL,
    path TEXT,
    query TEXT,
    status INTEGER,
    duration_ms INTEGER,
    error TEXT,
    event_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp_ns DESC);
CREATE INDEX IF NOT EXISTS idx_events_kind_ts ON events(kind, timestamp_ns DESC);
CREATE INDEX IF NOT EXISTS idx_events_server_ts ON events(server_name, timestamp_ns DESC);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) Record(ev *exchange.Event) (*StoredEvent, error) {
	if ev == nil || ev.Request == nil {
		return nil, fmt.Errorf("event is nil")
	}
	// the event is shared with the other sinks, so it is never modified here
	id := ev.Metadata.ID
	if strings.TrimSpace(id) == "" {
		id = fmt.Sprintf("EVT-%d", time.Now().UnixNano())
	}
	ts := ev.Timestamp.UTC()
	if ev.Timestamp.IsZero() {
		ts = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	status := 0
	if ev.Response != nil {
		status = ev.Response.Status
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	insertSQL := `INSERT INTO events (
        id, timestamp_ns, server_name, kind, method, path, query,
        status, duration_ms, error, event_json
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, insertSQL,
		id,
		ts.UnixNano(),
		ev.Metadata.ServerName,
		string(ev.Metadata.Kind),
		ev.Request.Method,
		ev.Request.Path,
		ev.Request.Query,
		status,
		ev.Metadata.DurationMs,
		ev.Metadata.Error,
		string(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if err = s.prune(ctx, tx); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &StoredEvent{ID: id, Event: ev}, nil
}

func (s *sqliteStore) prune(ctx context.Context, tx *sql.Tx) error {
	if s.cfg.Retention > 0 {
		cutoff := time.Now().Add(-s.cfg.Retention).UTC().UnixNano()
		if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE timestamp_ns < ?", cutoff); err != nil {
			return fmt.Errorf("prune by retention: %w", err)
		}
	}
	if s.cfg.MaxRecords > 0 {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM events").Scan(&count); err != nil {
			return fmt.Errorf("count records: %w", err)
		}
		if excess := count - s.cfg.MaxRecords; excess > 0 {
			if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id IN (SELECT id FROM events ORDER BY timestamp_ns ASC LIMIT ?)", excess); err != nil {
				return fmt.Errorf("prune max records: %w", err)
			}
		}
	}
	return nil
}

func (s *sqliteStore) List(opts ListOptions) ([]*StoredEvent, int, error) {
	ctx := context.Background()
	where, args := buildFilters(opts)

	countQuery := fmt.Sprintf("SELECT COUNT(1) FROM events %s", where)
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(selectColumns)
	queryBuilder.WriteString(where)
	queryBuilder.WriteString(" ORDER BY timestamp_ns DESC")

	listArgs := append([]interface{}{}, args...)
	if opts.Limit > 0 {
		offset := opts.Offset
		if offset < 0 {
			offset = 0
		}
		queryBuilder.WriteString(" LIMIT ? OFFSET ?")
		listArgs = append(listArgs, opts.Limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, queryBuilder.String(), listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*StoredEvent
	for rows.Next() {
		record, err := scanStoredEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

func (s *sqliteStore) Iterate(opts ListOptions, fn func(*StoredEvent) bool) error {
	ctx := context.Background()
	where, args := buildFilters(opts)

	rows, err := s.db.QueryContext(ctx, selectColumns+where+" ORDER BY timestamp_ns DESC", args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanStoredEvent(rows)
		if err != nil {
			return err
		}
		if !fn(record) {
			break
		}
	}
	return rows.Err()
}

func (s *sqliteStore) Get(id string) (*StoredEvent, error) {
	row := s.db.QueryRowContext(context.Background(), selectColumns+"WHERE id = ?", id)
	record, err := scanStoredEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanStoredEvent(scanner interface {
	Scan(dest ...interface{}) error
}) (*StoredEvent, error) {
	var (
		id      string
		payload string
	)
	if err := scanner.Scan(&id, &payload); err != nil {
		return nil, err
	}
	var ev exchange.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", id, err)
	}
	return &StoredEvent{ID: id, Event: &ev}, nil
}

func buildFilters(opts ListOptions) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if method := strings.TrimSpace(opts.Method); method != "" {
		clauses = append(clauses, "UPPER(method) = UPPER(?)")
		args = append(args, method)
	}
	if kind := strings.TrimSpace(opts.Kind); kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, strings.ToLower(kind))
	}
	if server := strings.TrimSpace(opts.Server); server != "" {
		clauses = append(clauses, "server_name = ?")
		args = append(args, server)
	}

	if search := strings.TrimSpace(strings.ToLower(opts.Search)); search != "" {
		like := fmt.Sprintf("%%%s%%", search)
		clauses = append(clauses, "(LOWER(path) LIKE ? OR LOWER(query) LIKE ? OR LOWER(error) LIKE ? OR LOWER(id) LIKE ?)")
		args = append(args, like, like, like, like)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
