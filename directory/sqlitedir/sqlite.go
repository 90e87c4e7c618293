// Package sqlitedir implements directory.Directory on a SQLite database using
// the pure-Go modernc.org/sqlite driver.
package sqlitedir

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/climber-engine/mcp-server-go/directory"
	_ "modernc.org/sqlite"
)

// Directory reads owners and owner records from SQLite.
type Directory struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path. The schema is
// created when absent. The special path ":memory:" opens a private
// in-memory database.
func Open(path string) (*Directory, error) {
	logger := slog.Default().With("component", "directory")

	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if inMemory {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	d := &Directory{db: db, logger: logger}
	if err := d.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlitedir.open.ok", slog.String("path", path))
	return d, nil
}

func (d *Directory) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS owners (
			id                TEXT PRIMARY KEY,
			username          TEXT NOT NULL UNIQUE,
			email             TEXT NOT NULL DEFAULT '',
			full_name         TEXT NOT NULL DEFAULT '',
			skill_level       TEXT NOT NULL DEFAULT '',
			primary_languages TEXT NOT NULL DEFAULT '[]',
			learning_style    TEXT NOT NULL DEFAULT '',
			is_active         INTEGER NOT NULL DEFAULT 1,
			created_at        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS owner_records (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id   TEXT NOT NULL,
			kind       TEXT NOT NULL,
			payload    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (owner_id) REFERENCES owners(id)
		);

		CREATE INDEX IF NOT EXISTS idx_owner_records_owner_kind
			ON owner_records(owner_id, kind, id);
	`
	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (d *Directory) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable.
func (d *Directory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// LookupOwner implements directory.Directory. ref matches either the owner id
// or the username; inactive owners are not resolvable.
func (d *Directory) LookupOwner(ctx context.Context, ref string) (*directory.Owner, error) {
	if ref == "" {
		return nil, directory.ErrOwnerNotFound
	}
	row := d.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, skill_level, primary_languages,
		       learning_style, is_active, created_at
		FROM owners
		WHERE (id = ? OR username = ?) AND is_active = 1
		ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END
		LIMIT 1
	`, ref, ref, ref)

	var (
		o         directory.Owner
		langs     string
		active    int
		createdAt string
	)
	err := row.Scan(&o.ID, &o.Username, &o.Email, &o.FullName, &o.SkillLevel, &langs, &o.LearningStyle, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying owner: %w", err)
	}
	if err := json.Unmarshal([]byte(langs), &o.PrimaryLanguages); err != nil {
		return nil, fmt.Errorf("decoding primary_languages: %w", err)
	}
	o.Active = active != 0
	o.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &o, nil
}

// Records implements directory.Directory.
func (d *Directory) Records(ctx context.Context, ownerID, kind string) ([]json.RawMessage, error) {
	var exists int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM owners WHERE id = ?`, ownerID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying owner: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT payload FROM owner_records
		WHERE owner_id = ? AND kind = ?
		ORDER BY id ASC
	`, ownerID, kind)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, json.RawMessage(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return out, nil
}

// PutOwner inserts or replaces an owner row.
func (d *Directory) PutOwner(ctx context.Context, o directory.Owner) error {
	langs := o.PrimaryLanguages
	if langs == nil {
		langs = []string{}
	}
	rawLangs, err := json.Marshal(langs)
	if err != nil {
		return fmt.Errorf("encoding primary_languages: %w", err)
	}
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	active := 0
	if o.Active {
		active = 1
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO owners (id, username, email, full_name, skill_level, primary_languages, learning_style, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			email = excluded.email,
			full_name = excluded.full_name,
			skill_level = excluded.skill_level,
			primary_languages = excluded.primary_languages,
			learning_style = excluded.learning_style,
			is_active = excluded.is_active
	`, o.ID, o.Username, o.Email, o.FullName, o.SkillLevel, string(rawLangs), o.LearningStyle, active, created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upserting owner: %w", err)
	}
	return nil
}

// AddRecord appends a JSON-encoded record of the given kind for ownerID.
func (d *Directory) AddRecord(ctx context.Context, ownerID, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO owner_records (owner_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, ownerID, kind, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

var _ directory.Directory = (*Directory)(nil)
