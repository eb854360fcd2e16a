// Package store provides persistence for user documents.
package store

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

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/handsomefox/watchwise/internal/tracking"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound   = tracking.ErrUserNotFound
	ErrEmailTaken = errors.New("email already registered")
)

// Store keeps user documents in SQLite. Tracked titles and counters
// are stored as JSON columns so a document is always written in one
// statement.
type Store struct {
	sqldb *sql.DB
	db    *bun.DB
}

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string `bun:"id,pk"`
	Name         string `bun:"name,notnull"`
	Email        string `bun:"email,notnull"`
	PasswordHash string `bun:"password_hash,notnull"`
	Movies       string `bun:"movies,notnull"`
	TVShows      string `bun:"tv_shows,notnull"`
	Anime        string `bun:"anime,notnull"`
	Stats        string `bun:"stats,notnull"`
	Version      int64  `bun:"version,notnull"`

	CreatedAt string `bun:"created_at,notnull"`
	UpdatedAt string `bun:"updated_at,notnull"`
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("DB_PATH is required")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	sqldb, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := sqldb.PingContext(ctx); err != nil {
		if cerr := sqldb.Close(); cerr != nil {
			return nil, fmt.Errorf("ping db: %w; close failed: %w", err, cerr)
		}
		return nil, err
	}

	if err := initSchema(ctx, sqldb); err != nil {
		if cerr := sqldb.Close(); cerr != nil {
			return nil, fmt.Errorf("init schema: %w; close failed: %w", err, cerr)
		}
		return nil, err
	}

	bdb := bun.NewDB(sqldb, sqlitedialect.New())
	return &Store{sqldb: sqldb, db: bdb}, nil
}

func (s *Store) Close() error { return s.sqldb.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.sqldb.PingContext(ctx) }

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	movies TEXT NOT NULL DEFAULT '[]',
	tv_shows TEXT NOT NULL DEFAULT '[]',
	anime TEXT NOT NULL DEFAULT '[]',
	stats TEXT NOT NULL DEFAULT '{}',
	version INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(email)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}

	// Databases created before optimistic locking lack the column.
	return addColumnIfMissing(ctx, db, "users", "version", "ALTER TABLE users ADD COLUMN version INTEGER NOT NULL DEFAULT 1")
}

func addColumnIfMissing(ctx context.Context, db *sql.DB, table, column, statement string) error {
	has, err := hasColumn(ctx, db, table, column)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = db.ExecContext(ctx, statement)
	if err != nil {
		has2, herr := hasColumn(ctx, db, table, column)
		if herr == nil && has2 {
			return nil
		}
	}
	return err
}

func hasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	//nolint:gosec // table is controlled in this package.
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.Null[string]
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) CreateUser(ctx context.Context, user *tracking.User) error {
	now := time.Now().UTC()
	u := user.Clone()
	u.ID = uuid.NewString()
	u.Email = NormalizeEmail(u.Email)
	u.Version = 1
	u.CreatedAt = now
	u.UpdatedAt = now

	row, err := toRow(u)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	}

	*user = *u
	return nil
}

func (s *Store) FindUser(ctx context.Context, id string) (*tracking.User, error) {
	return s.findBy(ctx, "id = ?", id)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*tracking.User, error) {
	return s.findBy(ctx, "email = ?", NormalizeEmail(email))
}

func (s *Store) findBy(ctx context.Context, where string, arg any) (*tracking.User, error) {
	var row userRow
	err := s.db.NewSelect().
		Model(&row).
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromRow(&row)
}

// SaveUser replaces the stored document when its version still equals
// user.Version, then advances user.Version.
func (s *Store) SaveUser(ctx context.Context, user *tracking.User) error {
	u := user.Clone()
	u.Email = NormalizeEmail(u.Email)
	u.Version = user.Version + 1
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now().UTC()
	}

	row, err := toRow(u)
	if err != nil {
		return err
	}

	res, err := s.db.NewUpdate().
		Model(row).
		Column("name", "email", "password_hash", "movies", "tv_shows", "anime", "stats", "version", "updated_at").
		Where("id = ?", row.ID).
		Where("version = ?", user.Version).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	}

	if err := expectRowsAffected(res); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		exists, eerr := s.db.NewSelect().Table("users").Where("id = ?", row.ID).Exists(ctx)
		if eerr != nil {
			return eerr
		}
		if exists {
			return tracking.ErrVersionConflict
		}
		return ErrNotFound
	}

	user.Email = u.Email
	user.Version = u.Version
	user.UpdatedAt = u.UpdatedAt
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().
		Table("users").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if err := expectRowsAffected(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func expectRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toRow(u *tracking.User) (*userRow, error) {
	movies, err := marshalTitles(u.Movies)
	if err != nil {
		return nil, err
	}
	tvShows, err := marshalTitles(u.TVShows)
	if err != nil {
		return nil, err
	}
	anime, err := marshalTitles(u.Anime)
	if err != nil {
		return nil, err
	}
	stats, err := json.Marshal(u.Stats)
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}
	return &userRow{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Movies:       movies,
		TVShows:      tvShows,
		Anime:        anime,
		Stats:        string(stats),
		Version:      u.Version,
		CreatedAt:    u.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    u.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func fromRow(row *userRow) (*tracking.User, error) {
	u := &tracking.User{
		ID:           row.ID,
		Name:         row.Name,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		Version:      row.Version,
	}
	var err error
	if u.Movies, err = unmarshalTitles(row.Movies); err != nil {
		return nil, fmt.Errorf("decode movies: %w", err)
	}
	if u.TVShows, err = unmarshalTitles(row.TVShows); err != nil {
		return nil, fmt.Errorf("decode tv shows: %w", err)
	}
	if u.Anime, err = unmarshalTitles(row.Anime); err != nil {
		return nil, fmt.Errorf("decode anime: %w", err)
	}
	if row.Stats != "" {
		if err := json.Unmarshal([]byte(row.Stats), &u.Stats); err != nil {
			return nil, fmt.Errorf("decode stats: %w", err)
		}
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339Nano, row.CreatedAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if u.UpdatedAt, err = time.Parse(time.RFC3339Nano, row.UpdatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return u, nil
}

func marshalTitles(titles []tracking.TrackedTitle) (string, error) {
	if titles == nil {
		titles = []tracking.TrackedTitle{}
	}
	b, err := json.Marshal(titles)
	if err != nil {
		return "", fmt.Errorf("encode titles: %w", err)
	}
	return string(b), nil
}

func unmarshalTitles(raw string) ([]tracking.TrackedTitle, error) {
	if strings.TrimSpace(raw) == "" {
		return []tracking.TrackedTitle{}, nil
	}
	var out []tracking.TrackedTitle
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
