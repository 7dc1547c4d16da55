package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hwid-license-server/internal/license"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const selectColumns = "key, hwid, days_left, banned, active, last_tick, created_at"

// SQLiteStore keeps licenses in a single SQLite table. Uniqueness of key and
// hwid is enforced by the schema.
type SQLiteStore struct {
	db     *sql.DB
	newKey KeyFunc
	now    func() time.Time
}

// OpenSQLite opens (or creates) the database at path and migrates it to the
// latest schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, storageErr("open", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storageErr("open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr("open", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, storageErr("open", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, storageErr("migrate", err)
	}
	return NewSQLite(db), nil
}

// NewSQLite wraps an already migrated database.
func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, newKey: license.NewKey, now: time.Now}
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	// m.Close would also close db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetKeyFunc replaces the key generator.
func (s *SQLiteStore) SetKeyFunc(f KeyFunc) { s.newKey = f }

func (s *SQLiteStore) Create(ctx context.Context, hwid string) (Record, error) {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := s.newKey()
		if err != nil {
			return Record{}, storageErr("create", err)
		}
		created := s.now().UTC().Truncate(time.Second)
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO licenses (key, hwid, days_left, banned, active, created_at) VALUES (?, ?, 0, 0, 0, ?)",
			key, hwid, created.Unix())
		if err == nil {
			return Record{Key: key, HWID: hwid, CreatedAt: created}, nil
		}
		switch uniqueViolation(err) {
		case "hwid":
			return Record{}, ErrConflict
		case "key":
			continue
		}
		return Record{}, storageErr("create", err)
	}
	return Record{}, ErrConflict
}

// uniqueViolation reports which unique column an insert collided on.
func uniqueViolation(err error) string {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return ""
	}
	msg := se.Error()
	switch {
	case strings.Contains(msg, "licenses.hwid"):
		return "hwid"
	case strings.Contains(msg, "licenses.key"):
		return "key"
	}
	return ""
}

func (s *SQLiteStore) FindByHWID(ctx context.Context, hwid string) (Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM licenses WHERE hwid = ?", hwid)
	return scanOne("find_by_hwid", row)
}

func (s *SQLiteStore) FindByKey(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM licenses WHERE key = ?", key)
	return scanOne("find_by_key", row)
}

func (s *SQLiteStore) Update(ctx context.Context, key string, p Patch) (Record, error) {
	sets, args := patchClauses(p)
	if len(sets) == 0 {
		return s.FindByKey(ctx, key)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, storageErr("update", err)
	}
	defer tx.Rollback()

	args = append(args, key)
	res, err := tx.ExecContext(ctx, "UPDATE licenses SET "+strings.Join(sets, ", ")+" WHERE key = ?", args...)
	if err != nil {
		return Record{}, storageErr("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, storageErr("update", err)
	}
	if n == 0 {
		return Record{}, ErrNotFound
	}
	rec, err := scanOne("update", tx.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM licenses WHERE key = ?", key))
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, storageErr("update", err)
	}
	return rec, nil
}

func patchClauses(p Patch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	if p.DaysLeft != nil {
		sets = append(sets, "days_left = ?")
		args = append(args, max(*p.DaysLeft, 0))
	}
	if p.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, *p.Active)
	}
	if p.Banned != nil {
		sets = append(sets, "banned = ?")
		args = append(args, *p.Banned)
	}
	switch {
	case p.ClearLastTick:
		sets = append(sets, "last_tick = NULL")
	case p.LastTick != nil:
		sets = append(sets, "last_tick = ?")
		args = append(args, p.LastTick.Unix())
	}
	return sets, args
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM licenses ORDER BY created_at, rowid")
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr("list", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(op string, row scanner) (Record, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, storageErr(op, err)
	}
	return rec, nil
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec      Record
		hwid     sql.NullString
		lastTick sql.NullInt64
		created  int64
	)
	if err := row.Scan(&rec.Key, &hwid, &rec.DaysLeft, &rec.Banned, &rec.Active, &lastTick, &created); err != nil {
		return Record{}, err
	}
	rec.HWID = hwid.String
	if lastTick.Valid {
		t := time.Unix(lastTick.Int64, 0).UTC()
		rec.LastTick = &t
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	return rec, nil
}
