package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id              TEXT PRIMARY KEY,
	observed_at     INTEGER NOT NULL,
	agent_id        TEXT NOT NULL,
	policy_id       TEXT NOT NULL,
	operation       TEXT NOT NULL DEFAULT '',
	allow           INTEGER NOT NULL,
	decision_id     TEXT NOT NULL,
	reasons         TEXT NOT NULL DEFAULT '[]',
	idempotency_key TEXT NOT NULL DEFAULT '',
	latency_ms      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_decisions_observed_at ON decisions(observed_at);
CREATE INDEX IF NOT EXISTS idx_decisions_agent_id ON decisions(agent_id);
`

// SQLiteStore persists decision records in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the decision database at path and ensures
// the schema exists. The database uses WAL mode so readers do not block the
// single writer.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open decision database %s: %w", path, err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create decision schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append stores decision records in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decision append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO decisions
			(id, observed_at, agent_id, policy_id, operation, allow, decision_id, reasons, idempotency_key, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare decision insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		reasons, err := json.Marshal(r.Reasons)
		if err != nil {
			return fmt.Errorf("encode decision reasons: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Time.UnixNano(), r.AgentID, r.PolicyID, r.Operation,
			boolToInt(r.Allow), r.DecisionID, string(reasons), r.IdempotencyKey, r.LatencyMS,
		); err != nil {
			return fmt.Errorf("insert decision %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Recent returns the n most recent records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, observed_at, agent_id, policy_id, operation, allow, decision_id, reasons, idempotency_key, latency_ms
		FROM decisions ORDER BY observed_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent decisions: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Query retrieves records matching the filter, newest first.
func (s *SQLiteStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var (
		where []string
		args  []any
	)
	if filter.AgentID != "" {
		where = append(where, "agent_id = ? COLLATE NOCASE")
		args = append(args, filter.AgentID)
	}
	if filter.PolicyID != "" {
		where = append(where, "policy_id = ?")
		args = append(args, filter.PolicyID)
	}
	if filter.Allow != nil {
		where = append(where, "allow = ?")
		args = append(args, boolToInt(*filter.Allow))
	}
	if !filter.Since.IsZero() {
		where = append(where, "observed_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	query := `SELECT id, observed_at, agent_id, policy_id, operation, allow, decision_id, reasons, idempotency_key, latency_ms FROM decisions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY observed_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var result []Record
	for rows.Next() {
		var (
			r        Record
			observed int64
			allow    int
			reasons  string
		)
		if err := rows.Scan(&r.ID, &observed, &r.AgentID, &r.PolicyID, &r.Operation,
			&allow, &r.DecisionID, &reasons, &r.IdempotencyKey, &r.LatencyMS); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		r.Time = time.Unix(0, observed).UTC()
		r.Allow = allow != 0
		if reasons != "" && reasons != "[]" {
			if err := json.Unmarshal([]byte(reasons), &r.Reasons); err != nil {
				return nil, fmt.Errorf("decode decision reasons: %w", err)
			}
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}
	return result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface verification.
var _ Store = (*SQLiteStore)(nil)
