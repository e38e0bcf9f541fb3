package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// dialect covers the differences between the supported databases.
type dialect struct {
	name   string
	driver string
	// dollar placeholders ($1, $2) instead of ?.
	dollar bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", driver: "sqlite"}
	postgresDialect = dialect{name: "postgres", driver: "pgx", dollar: true}
)

// rebind rewrites ? placeholders for the dialect.
func (d dialect) rebind(q string) string {
	if !d.dollar {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
	now     func() time.Time
}

// OpenSQLite opens (or creates) the database file at path and migrates it.
// ":memory:" opens a private in-memory database.
func OpenSQLite(path string, logger *zap.Logger) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return newSQLStore(db, sqliteDialect, logger)
}

// OpenPostgres connects with a pgx DSN and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return newSQLStore(db, postgresDialect, logger)
}

func newSQLStore(db *sql.DB, d dialect, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLStore{db: db, dialect: d, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// migrate applies embedded migrations that have not run yet, each in its
// own transaction.
func (s *SQLStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	dir := "migrations/" + s.dialect.name
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow(s.dialect.rebind("SELECT COUNT(*) FROM schema_version WHERE version = ?"), version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(dir + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec(s.dialect.rebind("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)"), version, s.now().UnixMicro()); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
		s.logger.Info("applied migration", zap.String("dialect", s.dialect.name), zap.Int("version", version))
	}
	return nil
}

// parseMigrationVersion extracts the leading integer from "001_name.sql".
func parseMigrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %q has no version prefix", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %q: %w", name, err)
	}
	return v, nil
}

func (s *SQLStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(q), args...)
}

// CreateJob inserts a pending job.
func (s *SQLStore) CreateJob(ctx context.Context, job *Job) error {
	if job.UserID == "" || job.URL == "" {
		return fmt.Errorf("creating job: user id and url are required")
	}
	if job.ID == "" {
		job.ID = NewJobID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	job.Status = JobPending
	job.CompletedAt = nil
	job.ErrorMessage = nil

	_, err := s.exec(ctx,
		`INSERT INTO crawling_jobs (job_id, user_id, url, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.URL, string(JobPending), job.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("creating job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJobStatus performs the single pending -> terminal transition.
func (s *SQLStore) UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, status)
	}
	var msg any
	if status == JobFailed {
		msg = errMsg
	}

	res, err := s.exec(ctx,
		`UPDATE crawling_jobs SET status = ?, completed_at = ?, error_message = ?
		 WHERE job_id = ? AND status = ?`,
		string(status), s.now().UTC().UnixMicro(), msg, jobID, string(JobPending))
	if err != nil {
		return fmt.Errorf("updating job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating job %s: %w", jobID, err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT status FROM crawling_jobs WHERE job_id = ?`), jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("reading job %s: %w", jobID, err)
	}
	return fmt.Errorf("%w: %s is %s", ErrJobTerminal, jobID, current)
}

// GetJob returns the job when it belongs to userID.
func (s *SQLStore) GetJob(ctx context.Context, jobID, userID string) (*Job, error) {
	var (
		job       Job
		status    string
		created   int64
		completed sql.NullInt64
		errMsg    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT job_id, user_id, url, status, created_at, completed_at, error_message
		 FROM crawling_jobs WHERE job_id = ? AND user_id = ?`), jobID, userID).
		Scan(&job.ID, &job.UserID, &job.URL, &status, &created, &completed, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading job %s: %w", jobID, err)
	}

	job.Status = JobStatus(status)
	job.CreatedAt = time.UnixMicro(created).UTC()
	if completed.Valid {
		t := time.UnixMicro(completed.Int64).UTC()
		job.CompletedAt = &t
	}
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	return &job, nil
}

// CreateUser inserts a user; a duplicate id returns ErrUserExists.
func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		return fmt.Errorf("creating user: id is required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	res, err := s.exec(ctx,
		`INSERT INTO users (user_id, email, name, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		user.ID, user.Email, user.Name, user.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("creating user %s: %w", user.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUserExists, user.ID)
	}
	return nil
}

// GetUser returns a user by id.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var (
		u       User
		created int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT user_id, email, name, created_at FROM users WHERE user_id = ?`), userID).
		Scan(&u.ID, &u.Email, &u.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading user %s: %w", userID, err)
	}
	u.CreatedAt = time.UnixMicro(created).UTC()
	return &u, nil
}

// Append adds values to a user's list in one transaction.
func (s *SQLStore) Append(ctx context.Context, userID string, kind ListKind, values ...string) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown list %q", kind)
	}
	if len(values) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(
		`INSERT INTO user_lists (user_id, kind, value, created_at) VALUES (?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.now().UTC().UnixMicro()
	for _, v := range values {
		if _, err := stmt.ExecContext(ctx, userID, string(kind), v, now); err != nil {
			return fmt.Errorf("appending to %s for %s: %w", kind, userID, err)
		}
	}
	return tx.Commit()
}

// List returns a user's list in insertion order; unknown users get an
// empty list.
func (s *SQLStore) List(ctx context.Context, userID string, kind ListKind) ([]string, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown list %q", kind)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT value FROM user_lists WHERE user_id = ? AND kind = ? ORDER BY id`), userID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing %s for %s: %w", kind, userID, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// AddQuery records an answered query.
func (s *SQLStore) AddQuery(ctx context.Context, rec QueryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO query_history (user_id, query, answer, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.UserID, rec.Query, rec.Answer, rec.Kind, rec.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("recording query for %s: %w", rec.UserID, err)
	}
	return nil
}

// RecentQueries returns the newest queries first.
func (s *SQLStore) RecentQueries(ctx context.Context, userID string, limit int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT user_id, query, answer, kind, created_at FROM query_history
		 WHERE user_id = ? ORDER BY id DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing queries for %s: %w", userID, err)
	}
	defer rows.Close()

	out := []QueryRecord{}
	for rows.Next() {
		var (
			r       QueryRecord
			created int64
		)
		if err := rows.Scan(&r.UserID, &r.Query, &r.Answer, &r.Kind, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMicro(created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ Store = (*SQLStore)(nil)
