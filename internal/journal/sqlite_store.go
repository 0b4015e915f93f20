package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crawshaw.io/sqlite"

	"github.com/localrivet/npamcp/internal/errortypes"
)

// ErrNotInitialized is returned when the store is used before Initialize.
var ErrNotInitialized = errors.New("journal not initialized")

// SQLiteStore is a Store backed by a single SQLite connection.
type SQLiteStore struct {
	mu     sync.Mutex
	conn   *sqlite.Conn
	dbPath string
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLiteStore instance.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{now: time.Now}
}

// Initialize opens (creating if needed) the database at dbPath.
func (s *SQLiteStore) Initialize(dbPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dbPath = dbPath

	conn, err := sqlite.OpenConn(dbPath, sqlite.SQLITE_OPEN_CREATE|sqlite.SQLITE_OPEN_READWRITE)
	if err != nil {
		return errortypes.DatabaseError(err, "failed to open SQLite database").WithField("path", dbPath)
	}
	s.conn = conn

	if err := s.createTable(); err != nil {
		s.conn.Close()
		s.conn = nil
		return errortypes.DatabaseError(err, "failed to create journal table").WithField("path", dbPath)
	}

	return nil
}

func (s *SQLiteStore) createTable() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS deletion_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			operation_id TEXT NOT NULL,
			app_id INTEGER NOT NULL,
			app_name TEXT NOT NULL,
			policy_id INTEGER NOT NULL DEFAULT 0,
			policy_name TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deletion_journal_app ON deletion_journal (app_id);`,
		`CREATE INDEX IF NOT EXISTS idx_deletion_journal_op ON deletion_journal (operation_id);`,
	}

	for _, sql := range statements {
		stmt, err := s.conn.Prepare(sql)
		if err != nil {
			return fmt.Errorf("failed to prepare schema statement: %w", err)
		}
		_, err = stmt.Step()
		stmt.Reset()
		if err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the store and releases any resources.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Record appends entry. A zero CreatedAt is set to the current time.
func (s *SQLiteStore) Record(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return errortypes.DatabaseError(ErrNotInitialized, "cannot record journal entry")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	stmt, err := s.conn.Prepare(`
	INSERT INTO deletion_journal (operation_id, app_id, app_name, policy_id, policy_name, action, detail, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return errortypes.DatabaseError(err, "failed to prepare insert statement")
	}
	defer stmt.Reset()

	// Bind parameters - indices in sqlite are 1-based
	stmt.BindText(1, entry.OperationID)
	stmt.BindInt64(2, int64(entry.AppID))
	stmt.BindText(3, entry.AppName)
	stmt.BindInt64(4, int64(entry.PolicyID))
	stmt.BindText(5, entry.PolicyName)
	stmt.BindText(6, entry.Action)
	stmt.BindText(7, entry.Detail)
	stmt.BindInt64(8, entry.CreatedAt.UnixMilli())

	if _, err := stmt.Step(); err != nil {
		return errortypes.DatabaseError(err, "failed to insert journal entry").
			WithField("operation_id", entry.OperationID)
	}
	return nil
}

// List returns entries matching filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil, errortypes.DatabaseError(ErrNotInitialized, "cannot list journal entries")
	}

	var where []string
	if filter.AppID != 0 {
		where = append(where, "app_id = $app_id")
	}
	if filter.OperationID != "" {
		where = append(where, "operation_id = $operation_id")
	}
	query := `SELECT id, operation_id, app_id, app_name, policy_id, policy_name, action, detail, created_at
	FROM deletion_journal`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $limit;"

	stmt, err := s.conn.Prepare(query)
	if err != nil {
		return nil, errortypes.DatabaseError(err, "failed to prepare select statement")
	}
	defer stmt.Reset()

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if filter.AppID != 0 {
		stmt.SetInt64("$app_id", int64(filter.AppID))
	}
	if filter.OperationID != "" {
		stmt.SetText("$operation_id", filter.OperationID)
	}
	stmt.SetInt64("$limit", int64(limit))

	var entries []Entry
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, errortypes.DatabaseError(err, "failed to execute select statement")
		}
		if !hasRow {
			break
		}
		// Column indices are 0-based
		entries = append(entries, Entry{
			ID:          stmt.ColumnInt64(0),
			OperationID: stmt.ColumnText(1),
			AppID:       int(stmt.ColumnInt64(2)),
			AppName:     stmt.ColumnText(3),
			PolicyID:    int(stmt.ColumnInt64(4)),
			PolicyName:  stmt.ColumnText(5),
			Action:      stmt.ColumnText(6),
			Detail:      stmt.ColumnText(7),
			CreatedAt:   time.UnixMilli(stmt.ColumnInt64(8)).UTC(),
		})
	}
	return entries, nil
}
