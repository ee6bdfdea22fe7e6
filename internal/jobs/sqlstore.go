package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQL 方言
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQLStore はタスク記録を SQLite または PostgreSQL に保存します。
type SQLStore struct {
	db      *sql.DB
	dialect string
	closeFn func()
}

// OpenSQLite は dsn（ファイルパス）の SQLite を開いてスキーマを作成します。
func OpenSQLite(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// 書き込みの競合を避けるため接続を一本にする
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, err
	}
	return newSQLStore(ctx, db, DialectSQLite, nil)
}

// OpenPostgres は pgx のプールを作成し database/sql として扱います。
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "pdf-translator"

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, err
	}
	return newSQLStore(ctx, stdlib.OpenDBFromPool(pool), DialectPostgres, pool.Close)
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect string, closeFn func()) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, closeFn: closeFn}
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			file_path TEXT NOT NULL,
			status TEXT NOT NULL,
			parse_progress INTEGER NOT NULL DEFAULT 0,
			translate_progress INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			source_lang TEXT NOT NULL,
			target_lang TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS tasks_created_at ON tasks (created_at)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const taskColumns = `task_id, filename, file_path, status, parse_progress, translate_progress, message, source_lang, target_lang, created_at, updated_at`

// Create は記録を挿入します。
func (s *SQLStore) Create(ctx context.Context, record *Record) error {
	if record == nil || record.TaskID == "" {
		return fmt.Errorf("record with taskId is required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		record.TaskID, record.Filename, record.FilePath, string(record.Status),
		record.ParseProgress, record.TranslateProgress, record.Message,
		record.SourceLang, record.TargetLang, record.CreatedAt, record.UpdatedAt,
	)
	return err
}

// Get は記録を取得します。
func (s *SQLStore) Get(ctx context.Context, taskID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`), taskID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// Update はトランザクション内で読み出し・更新を行います。
func (s *SQLStore) Update(ctx context.Context, taskID string, mutate func(*Record)) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = ?`
	if s.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	record, err := scanRecord(tx.QueryRowContext(ctx, s.rebind(query), taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	mutate(record)
	record.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE tasks SET filename = ?, file_path = ?, status = ?, parse_progress = ?, translate_progress = ?, message = ?, source_lang = ?, target_lang = ?, updated_at = ? WHERE task_id = ?`),
		record.Filename, record.FilePath, string(record.Status),
		record.ParseProgress, record.TranslateProgress, record.Message,
		record.SourceLang, record.TargetLang, record.UpdatedAt, taskID,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return record, nil
}

// List は作成日時の新しい順に記録を返します。
func (s *SQLStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetSettings は保存済みの設定を返します。未保存なら既定値です。
func (s *SQLStore) GetSettings(ctx context.Context) (Settings, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM settings WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	var settings Settings
	if err := json.Unmarshal([]byte(payload), &settings); err != nil {
		return Settings{}, err
	}
	return settings.WithDefaults(), nil
}

// SaveSettings は設定を一行に保存します。
func (s *SQLStore) SaveSettings(ctx context.Context, settings Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO settings (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`),
		string(payload), time.Now().UTC(),
	)
	return err
}

// Close は DB を閉じます。
func (s *SQLStore) Close() error {
	err := s.db.Close()
	if s.closeFn != nil {
		s.closeFn()
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record Record
		status string
	)
	err := row.Scan(
		&record.TaskID, &record.Filename, &record.FilePath, &status,
		&record.ParseProgress, &record.TranslateProgress, &record.Message,
		&record.SourceLang, &record.TargetLang, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Status = Status(status)
	return &record, nil
}

// rebind は ? プレースホルダーを方言に合わせて書き換えます。
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
