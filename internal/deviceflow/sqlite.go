// Package deviceflow implements device code storage with SQLite
package deviceflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS device_codes (
	id             TEXT PRIMARY KEY,
	device_code    TEXT NOT NULL UNIQUE,
	user_code      TEXT NOT NULL,
	client_id      TEXT NOT NULL,
	scopes         TEXT NOT NULL,
	subject        TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL,
	last_polled_at INTEGER NOT NULL DEFAULT 0,
	poll_interval  INTEGER NOT NULL,
	consumed       INTEGER NOT NULL DEFAULT 0,
	tokens         TEXT,
	version        INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_device_codes_user_code ON device_codes (user_code);
CREATE INDEX IF NOT EXISTS idx_device_codes_expires_at ON device_codes (expires_at);
`

// SQLiteStore implements Store against a SQLite database. Timestamps
// are stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures
// the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// The modernc driver serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent polling.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating sqlite schema: %w", err)
	}
	return store, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CheckHealth verifies the database is reachable
func (s *SQLiteStore) CheckHealth(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite health check failed: %w", err)
	}
	return nil
}

// Create persists a new record inside a transaction so the active
// uniqueness check and the insert are one atomic step.
func (s *SQLiteStore) Create(ctx context.Context, record *DeviceCodeRecord) error {
	scopes, err := json.Marshal(record.Scopes)
	if err != nil {
		return fmt.Errorf("marshaling scopes: %w", err)
	}
	tokens, err := marshalTokens(record.Tokens)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM device_codes
		 WHERE (device_code = ? OR user_code = ?) AND expires_at > ?`,
		record.DeviceCode, record.UserCode, time.Now().UnixMilli(),
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("checking code uniqueness: %w", err)
	}
	if active > 0 {
		return ErrDuplicateCode
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO device_codes
		 (id, device_code, user_code, client_id, scopes, subject, state,
		  created_at, expires_at, last_polled_at, poll_interval, consumed, tokens, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.DeviceCode, record.UserCode, record.ClientID,
		string(scopes), record.Subject, string(record.State),
		record.CreatedAt.UnixMilli(), record.ExpiresAt.UnixMilli(),
		unixMilliOrZero(record.LastPolledAt), record.Interval,
		boolToInt(record.Consumed), tokens, record.Version,
	)
	if err != nil {
		return fmt.Errorf("inserting device code record: %w", err)
	}
	return tx.Commit()
}

// GetByDeviceCode retrieves a record, expired or not
func (s *SQLiteStore) GetByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCodeRecord, error) {
	return s.queryRecord(ctx, `device_code = ?`, deviceCode)
}

// GetByUserCode retrieves an active record by normalized user code. The
// expiry filter also skips expired rows still retained under a since
// reused user code.
func (s *SQLiteStore) GetByUserCode(ctx context.Context, userCode string) (*DeviceCodeRecord, error) {
	return s.queryRecord(ctx, `user_code = ? AND expires_at > ?`,
		userCode, time.Now().UnixMilli())
}

// Update persists mutations with optimistic concurrency on the version
func (s *SQLiteStore) Update(ctx context.Context, record *DeviceCodeRecord) error {
	scopes, err := json.Marshal(record.Scopes)
	if err != nil {
		return fmt.Errorf("marshaling scopes: %w", err)
	}
	tokens, err := marshalTokens(record.Tokens)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE device_codes SET
		   scopes = ?, subject = ?, state = ?, last_polled_at = ?,
		   poll_interval = ?, consumed = MAX(consumed, ?), tokens = ?,
		   version = version + 1
		 WHERE device_code = ? AND version = ?`,
		string(scopes), record.Subject, string(record.State),
		unixMilliOrZero(record.LastPolledAt), record.Interval,
		boolToInt(record.Consumed), tokens,
		record.DeviceCode, record.Version,
	)
	if err != nil {
		return fmt.Errorf("updating device code record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating device code record: %w", err)
	}
	if affected == 1 {
		record.Version++
		return nil
	}

	// Distinguish a missing record from a lost version race
	current, err := s.GetByDeviceCode(ctx, record.DeviceCode)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrNotFound
	}
	return ErrStaleRecord
}

// Consume claims the consumed flag with a single compare-and-set update
func (s *SQLiteStore) Consume(ctx context.Context, deviceCode string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE device_codes SET consumed = 1, version = version + 1
		 WHERE device_code = ? AND consumed = 0`,
		deviceCode,
	)
	if err != nil {
		return false, fmt.Errorf("consuming device code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consuming device code: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	record, err := s.GetByDeviceCode(ctx, deviceCode)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, ErrNotFound
	}
	return false, nil
}

// DeleteExpiredBefore removes records whose expiry is before the cutoff
func (s *SQLiteStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM device_codes WHERE expires_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("deleting expired device code records: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting expired device code records: %w", err)
	}
	return int(affected), nil
}

func (s *SQLiteStore) queryRecord(ctx context.Context, where string, args ...any) (*DeviceCodeRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, device_code, user_code, client_id, scopes, subject, state,
		        created_at, expires_at, last_polled_at, poll_interval,
		        consumed, tokens, version
		 FROM device_codes WHERE `+where, args...)

	var (
		record       DeviceCodeRecord
		scopes       string
		state        string
		createdAt    int64
		expiresAt    int64
		lastPolledAt int64
		consumed     int
		tokens       sql.NullString
	)
	err := row.Scan(&record.ID, &record.DeviceCode, &record.UserCode,
		&record.ClientID, &scopes, &record.Subject, &state,
		&createdAt, &expiresAt, &lastPolledAt, &record.Interval,
		&consumed, &tokens, &record.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting device code record: %w", err)
	}

	if err := json.Unmarshal([]byte(scopes), &record.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshaling scopes: %w", err)
	}
	record.State = State(state)
	record.CreatedAt = time.UnixMilli(createdAt)
	record.ExpiresAt = time.UnixMilli(expiresAt)
	if lastPolledAt > 0 {
		record.LastPolledAt = time.UnixMilli(lastPolledAt)
	}
	record.Consumed = consumed != 0
	if tokens.Valid && tokens.String != "" {
		record.Tokens = &TokenResponse{}
		if err := json.Unmarshal([]byte(tokens.String), record.Tokens); err != nil {
			return nil, fmt.Errorf("unmarshaling tokens: %w", err)
		}
	}
	return &record, nil
}

func marshalTokens(tokens *TokenResponse) (sql.NullString, error) {
	if tokens == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling tokens: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
