package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/paltrust/feedback/internal/api"
	"github.com/paltrust/feedback/internal/services"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ api.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// SQLiteDSN builds the connection string used for file databases.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(path))
}

// OpenSQLite opens (creating if needed) the database at path, applies
// migrations and returns the store.
func OpenSQLite(path, migrationsDir string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	sqlDB, err := sql.Open("sqlite3", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps WAL mode free of "database is locked" under load
	sqlDB.SetMaxOpenConns(1)
	if err := RunMigrations(sqlDB, migrationsDir); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	st, err := NewSQLiteStore(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) GetSettings(ctx context.Context) (*services.SettingsDocument, error) {
	var (
		raw       string
		version   int64
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT document, version, updated_at FROM app_settings WHERE id = 1`).Scan(&raw, &version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	doc, err := decodeSettings([]byte(raw))
	if err != nil {
		return nil, err
	}
	doc.Version = version
	doc.UpdatedAt = parseTime(updatedAt)
	return doc, nil
}

// PutSettings inserts the first document or updates the row only while its
// version still equals expectedVersion.
func (s *SQLiteStore) PutSettings(ctx context.Context, doc *services.SettingsDocument, expectedVersion int64) error {
	if doc == nil {
		return errors.New("settings document required")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO app_settings (id, document, version, updated_at) VALUES (1, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
			string(raw), doc.Version, formatTime(doc.UpdatedAt))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE app_settings SET document = ?, version = ?, updated_at = ? WHERE id = 1 AND version = ?`,
			string(raw), doc.Version, formatTime(doc.UpdatedAt), expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if n == 0 {
		return services.ErrVersionConflict
	}
	return nil
}

func (s *SQLiteStore) InsertResponse(ctx context.Context, r *services.SurveyResponse) error {
	if r == nil {
		return errors.New("response required")
	}
	answers, err := encodeAnswers(r.AllAnswers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO survey_responses (id, rating, comment, all_answers, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Rating, r.Comment, string(answers), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListResponses(ctx context.Context) ([]*services.SurveyResponse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, rating, comment, all_answers, created_at FROM survey_responses ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()
	out := []*services.SurveyResponse{}
	for rows.Next() {
		var (
			r         services.SurveyResponse
			answers   string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.Rating, &r.Comment, &answers, &createdAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		r.AllAnswers = decodeAnswers([]byte(answers))
		r.CreatedAt = parseTime(createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ImportSnapshot copies a memory snapshot into the database in one
// transaction. Responses that already exist are skipped.
func (s *SQLiteStore) ImportSnapshot(ctx context.Context, snap *api.LegacySnapshot) (int, error) {
	if snap == nil {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	if snap.Settings != nil {
		raw, err := json.Marshal(snap.Settings)
		if err != nil {
			return 0, fmt.Errorf("encode settings: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO app_settings (id, document, version, updated_at) VALUES (1, ?, ?, ?)`,
			string(raw), snap.Settings.Version, formatTime(snap.Settings.UpdatedAt)); err != nil {
			return 0, fmt.Errorf("import settings: %w", err)
		}
	}
	n := 0
	for _, r := range snap.Responses {
		if r == nil {
			continue
		}
		answers, err := encodeAnswers(r.AllAnswers)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO survey_responses (id, rating, comment, all_answers, created_at) VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.Rating, r.Comment, string(answers), formatTime(r.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("import response %s: %w", r.ID, err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			n++
		}
	}
	return n, tx.Commit()
}

// timeLayout has a fixed-width fraction so text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func decodeSettings(raw []byte) (*services.SettingsDocument, error) {
	var doc services.SettingsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &doc, nil
}

func encodeAnswers(a services.Answers) ([]byte, error) {
	if a == nil {
		a = services.Answers{}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}
	return b, nil
}

// decodeAnswers tolerates malformed rows so one bad record cannot hide the
// rest of the list.
func decodeAnswers(raw []byte) services.Answers {
	out := services.Answers{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return services.Answers{}
	}
	return out
}
