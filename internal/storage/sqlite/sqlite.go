//go:build sqlite

// Package sqlite implements storage.Store on SQLite using the CGO-less modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	sqlitedrv "modernc.org/sqlite" // CGO-less SQLite driver
	sqlite3 "modernc.org/sqlite/lib"

	"usersvc/internal/domain"
	"usersvc/internal/storage"
)

// SQLite names a unique violation by its column list, not by constraint name.
var uniqueFailedRe = regexp.MustCompile(`UNIQUE constraint failed: ([A-Za-z0-9_.]+)`)

// columnConstraints maps the columns SQLite reports to the schema's constraint identities.
var columnConstraints = map[string]string{
	"users.username": storage.UsernameConstraint,
	"users.email":    storage.EmailConstraint,
}

var defaultPragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"foreign_keys(ON)",
}

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens the database at dsn, applies pending migrations, and returns a Store.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// withPragmas appends the driver's _pragma parameters so that every pooled
// connection, not only the first, gets the same settings.
func withPragmas(dsn string) string {
	var params []string
	for _, p := range defaultPragmas {
		name := p[:strings.IndexByte(p, '(')]
		if strings.Contains(dsn, "_pragma="+name) {
			continue
		}
		params = append(params, "_pragma="+p)
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func (s *Store) GetUser(ctx context.Context, username string) (domain.User, bool, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, `SELECT username, email, bio FROM users WHERE username = ?`, username).
		Scan(&u.Username, &u.Email, &u.Bio)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, fmt.Errorf("get user: %w", err)
	}
	return u, true, nil
}

func (s *Store) ListUsers(ctx context.Context, page domain.Page) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, email, bio FROM users ORDER BY username ASC LIMIT ? OFFSET ?`, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.Username, &u.Email, &u.Bio); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (username, email, bio) VALUES (?, ?, ?)`,
		user.Username, user.Email, user.Bio)
	if err != nil {
		return fmt.Errorf("insert user: %w", classify(err))
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, username string, update domain.UserUpdate) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = COALESCE(?, email), bio = COALESCE(?, bio)
		WHERE username = ?`,
		update.Email, update.Bio, username)
	if err != nil {
		return false, fmt.Errorf("update user: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update user: %w", err)
	}
	return n > 0, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// classify rewrites a unique violation into *storage.ConstraintError and returns
// every other error unchanged.
func classify(err error) error {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return err
	}
	m := uniqueFailedRe.FindStringSubmatch(se.Error())
	if len(m) < 2 {
		return err
	}
	if name, ok := columnConstraints[m[1]]; ok {
		return &storage.ConstraintError{Name: name, Err: err}
	}
	return &storage.ConstraintError{Name: m[1], Err: err}
}
