package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eddiefleurent/flyexit/internal/models"
)

// AttemptRow is one journaled exit attempt.
type AttemptRow struct {
	RecordedAt           time.Time
	AttemptID            string
	PositionID           string
	Method               string
	Reason               string
	ErrorMessage         string
	Warnings             []string
	Proceeds             float64
	RealizedPnL          float64
	Slippage             float64
	TotalLatencyMs       float64
	TimeBetweenSpreadsMs float64
	Success              bool
}

// SQLiteJournal is an append-only SQLite journal of exit attempts.
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteJournal opens (or creates) the journal database at dbPath.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	if dbPath == "" {
		return nil, errors.New("journal path is required")
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	j := &SQLiteJournal{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exit_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id TEXT NOT NULL UNIQUE,
		position_id TEXT NOT NULL,
		method TEXT NOT NULL,
		reason TEXT,
		success INTEGER NOT NULL,
		proceeds REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		slippage REAL NOT NULL,
		total_latency_ms REAL NOT NULL,
		time_between_spreads_ms REAL NOT NULL,
		error_message TEXT,
		warnings TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_exit_attempts_position ON exit_attempts(position_id);
	`
	_, err := j.db.Exec(schema)
	return err
}

// RecordAttempt appends one exit attempt. Re-recording the same attempt ID replaces it.
func (j *SQLiteJournal) RecordAttempt(ctx context.Context, result *models.ExitResult, reason string) error {
	if result == nil {
		return errors.New("exit result is required")
	}

	warnings, err := json.Marshal(result.Warnings)
	if err != nil {
		return fmt.Errorf("encoding warnings: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO exit_attempts
		(attempt_id, position_id, method, reason, success, proceeds, realized_pnl, slippage,
		 total_latency_ms, time_between_spreads_ms, error_message, warnings, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = j.db.ExecContext(ctx, query,
		result.AttemptID, result.PositionID, result.ExitMethod, reason, boolToInt(result.Success),
		result.ExitProceeds, result.RealizedPnL, result.TotalSlippage,
		result.TotalLatencyMs, result.TimeBetweenSpreadsMs, result.ErrorMessage, string(warnings),
		j.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to journal attempt %s: %w", result.AttemptID, err)
	}
	return nil
}

// ListAttempts returns journaled attempts in insertion order. An empty positionID lists all.
func (j *SQLiteJournal) ListAttempts(ctx context.Context, positionID string) ([]AttemptRow, error) {
	query := `
		SELECT attempt_id, position_id, method, reason, success, proceeds, realized_pnl, slippage,
		       total_latency_ms, time_between_spreads_ms, error_message, warnings, recorded_at
		FROM exit_attempts
	`
	var args []interface{}
	if positionID != "" {
		query += " WHERE position_id = ?"
		args = append(args, positionID)
	}
	query += " ORDER BY id ASC"

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var (
			row                             AttemptRow
			reason, errMsg, warnings        sql.NullString
			success                         int
			recordedAt                      string
		)
		if err := rows.Scan(&row.AttemptID, &row.PositionID, &row.Method, &reason, &success,
			&row.Proceeds, &row.RealizedPnL, &row.Slippage, &row.TotalLatencyMs,
			&row.TimeBetweenSpreadsMs, &errMsg, &warnings, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		row.Reason = reason.String
		row.ErrorMessage = errMsg.String
		row.Success = success != 0
		if warnings.Valid && warnings.String != "" && warnings.String != "null" {
			if err := json.Unmarshal([]byte(warnings.String), &row.Warnings); err != nil {
				return nil, fmt.Errorf("decoding warnings for %s: %w", row.AttemptID, err)
			}
		}
		if row.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at for %s: %w", row.AttemptID, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ ExitJournal = (*SQLiteJournal)(nil)
