// Package receipts keeps a sqlite log of every registration attempt.
package receipts

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tmfiling-backend/internal/registration"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

const (
	OUTCOME_SUCCESS = "success"
	OUTCOME_FAILURE = "failure"
)

// warnings are stored in one column, joined by this separator
const warningSeparator = "\n"

// Entry is one recorded attempt.
type Entry struct {
	AttemptID     string
	StartedAt     time.Time
	FinishedAt    time.Time
	Outcome       string
	Code          string
	Message       string
	Step          int
	FileNumber    string
	DocumentRef   string
	TransactionID string
	DocumentCount int
	Warnings      []string
}

type Store struct {
	db *sql.DB
}

var _ registration.Recorder = (*Store)(nil)

func wrapOpen(err error) error {
	return fmt.Errorf("open receipts: %w", err)
}

var remoteSchemes = []string{"libsql://", "https://", "http://", "wss://", "ws://"}

// isRemote reports whether path points at a libsql server instead of a
// local file.
func isRemote(path string) bool {
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(path, scheme) {
			return true
		}
	}
	return false
}

// Open opens (and if needed creates) the database at path and applies the
// schema. ":memory:" opens a throwaway database, a libsql:// url (with an
// optional authToken query parameter) a remote one.
func Open(path string) (*Store, error) {
	if isRemote(path) {
		db, err := sql.Open("libsql", path)
		if err != nil {
			return nil, wrapOpen(err)
		}
		store, err := New(db)
		if err != nil {
			db.Close()
			return nil, wrapOpen(err)
		}
		return store, nil
	}

	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0777)
		if err != nil {
			return nil, wrapOpen(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapOpen(err)
	}
	// sqlite allows a single writer, more connections only produce
	// SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, wrapOpen(err)
		}
	}

	store, err := New(db)
	if err != nil {
		db.Close()
		return nil, wrapOpen(err)
	}
	return store, nil
}

// New uses an already opened database.
func New(db *sql.DB) (*Store, error) {
	// one statement at a time, remote drivers reject batches
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.Exec(stmt)
		if err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func entryFromResult(result registration.Result) Entry {
	entry := Entry{
		AttemptID:  result.AttemptID,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Step:       registration.STEP_NONE,
		Warnings:   result.Warnings,
	}
	switch {
	case result.Success != nil:
		entry.Outcome = OUTCOME_SUCCESS
		entry.FileNumber = result.Success.FileNumber
		entry.DocumentRef = result.Success.DocumentRef
		entry.TransactionID = result.Success.TransactionID
		entry.DocumentCount = len(result.Success.Documents)
	case result.Failure != nil:
		entry.Outcome = OUTCOME_FAILURE
		entry.Code = string(result.Failure.Code)
		entry.Message = result.Failure.Message
		entry.Step = result.Failure.Step
	}
	return entry
}

// Record stores the outcome of an attempt. Recording the same attempt twice
// replaces the earlier row.
func (s *Store) Record(ctx context.Context, result registration.Result) error {
	entry := entryFromResult(result)
	if entry.Outcome == "" {
		return fmt.Errorf("attempt %s has neither success nor failure", entry.AttemptID)
	}

	_, err := s.db.ExecContext(
		ctx,
		`insert or replace into attempt (
			id, started_at, finished_at, outcome, code, message, step,
			file_number, document_ref, transaction_id, document_count, warnings
		) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.AttemptID,
		entry.StartedAt.UnixMilli(),
		entry.FinishedAt.UnixMilli(),
		entry.Outcome,
		entry.Code,
		entry.Message,
		entry.Step,
		entry.FileNumber,
		entry.DocumentRef,
		entry.TransactionID,
		entry.DocumentCount,
		strings.Join(entry.Warnings, warningSeparator),
	)
	if err != nil {
		return fmt.Errorf("record attempt %s: %w", entry.AttemptID, err)
	}
	return nil
}

// List returns the most recent attempts first. A limit <= 0 returns all of
// them.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(
		ctx,
		`select id, started_at, finished_at, outcome, code, message, step,
			file_number, document_ref, transaction_id, document_count, warnings
		from attempt
		order by started_at desc, id
		limit ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var started, finished int64
		var warnings string
		err := rows.Scan(
			&entry.AttemptID,
			&started,
			&finished,
			&entry.Outcome,
			&entry.Code,
			&entry.Message,
			&entry.Step,
			&entry.FileNumber,
			&entry.DocumentRef,
			&entry.TransactionID,
			&entry.DocumentCount,
			&warnings,
		)
		if err != nil {
			return nil, fmt.Errorf("list attempts: %w", err)
		}
		entry.StartedAt = time.UnixMilli(started)
		entry.FinishedAt = time.UnixMilli(finished)
		if warnings != "" {
			entry.Warnings = strings.Split(warnings, warningSeparator)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
