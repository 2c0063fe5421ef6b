package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/weddinglabs/cardpress/api"
)

// database is the SQLite persistence layer behind a Store. Names and
// configs serialize as JSON; image bytes go into a separate blob table so a
// config tweak does not rewrite megabytes of uploads.
type database struct {
	db *sql.DB
}

func openDatabase(path string) (*database, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure session db: %w", err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			names TEXT NOT NULL DEFAULT '[]',
			configs TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS session_images (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			name TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (session_id, idx)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create session schema: %w", err)
		}
	}
	return &database{db: db}, nil
}

func (d *database) close() error {
	return d.db.Close()
}

func (d *database) save(sess *Session) error {
	names, err := json.Marshal(sess.Names)
	if err != nil {
		return err
	}
	configs, err := json.Marshal(sess.Configs)
	if err != nil {
		return err
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO sessions (id, created_at, names, configs) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET names = excluded.names, configs = excluded.configs`,
		sess.ID, sess.CreatedAt, string(names), string(configs),
	); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	// Images are append-only per session; only write the missing tail.
	var have int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM session_images WHERE session_id = ?`, sess.ID).Scan(&have); err != nil {
		return fmt.Errorf("save session images: %w", err)
	}
	for i := have; i < len(sess.Images); i++ {
		img := sess.Images[i]
		if _, err := tx.Exec(
			`INSERT INTO session_images (session_id, idx, name, data) VALUES (?, ?, ?, ?)`,
			sess.ID, i, img.Name, img.Data,
		); err != nil {
			return fmt.Errorf("save session image %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (d *database) load(id string) (*Session, error) {
	var createdAt time.Time
	var names, configs string
	err := d.db.QueryRow(
		`SELECT created_at, names, configs FROM sessions WHERE id = ?`, id,
	).Scan(&createdAt, &names, &configs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	sess := &Session{ID: id, CreatedAt: createdAt}
	if err := json.Unmarshal([]byte(names), &sess.Names); err != nil {
		return nil, fmt.Errorf("load session names: %w", err)
	}
	if err := json.Unmarshal([]byte(configs), &sess.Configs); err != nil {
		return nil, fmt.Errorf("load session configs: %w", err)
	}

	rows, err := d.db.Query(
		`SELECT name, data FROM session_images WHERE session_id = ? ORDER BY idx`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("load session images: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("load session image: %w", err)
		}
		img, err := api.NewTemplateImage(name, data)
		if err != nil {
			return nil, err
		}
		sess.Images = append(sess.Images, img)
	}
	return sess, rows.Err()
}

func (d *database) delete(id string) error {
	if _, err := d.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
