package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harun/multichat/pkg/conversation"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	name TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	session TEXT NOT NULL REFERENCES sessions(name) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	text TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (session, seq)
);

CREATE TABLE IF NOT EXISTS images (
	session TEXT NOT NULL,
	turn_seq INTEGER NOT NULL,
	idx INTEGER NOT NULL,
	name TEXT NOT NULL,
	media_type TEXT NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (session, turn_seq, idx),
	FOREIGN KEY (session, turn_seq) REFERENCES turns(session, seq) ON DELETE CASCADE
);
`

// SQLiteStore keeps the session mapping in a SQLite database.
// Save replaces all rows inside one transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.checkVersion(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// checkVersion stamps a fresh database and rejects unknown versions
func (s *SQLiteStore) checkVersion() error {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'version'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.Exec(`INSERT INTO meta (key, value) VALUES ('version', ?)`, strconv.Itoa(FormatVersion))
		if err != nil {
			return fmt.Errorf("failed to write store version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read store version: %w", err)
	}

	version, err := strconv.Atoi(value)
	if err != nil || version != FormatVersion {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, value)
	}
	return nil
}

// Load reads every session with its turns and images
func (s *SQLiteStore) Load(ctx context.Context) (map[string]Session, error) {
	sessions := make(map[string]Session)
	turns := make(map[string][]conversation.Turn)

	rows, err := s.db.QueryContext(ctx, `SELECT name, created_at, updated_at FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	for rows.Next() {
		var name string
		var createdAt, updatedAt int64
		if err := rows.Scan(&name, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions[name] = Session{
			Name:      name,
			CreatedAt: time.Unix(0, createdAt).UTC(),
			UpdatedAt: time.Unix(0, updatedAt).UTC(),
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT session, role, text, created_at FROM turns ORDER BY session, seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	for rows.Next() {
		var name, role, text string
		var createdAt int64
		if err := rows.Scan(&name, &role, &text, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns[name] = append(turns[name], conversation.Turn{
			Role:      conversation.Role(role),
			Text:      text,
			CreatedAt: time.Unix(0, createdAt).UTC(),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT session, turn_seq, name, media_type, data FROM images ORDER BY session, turn_seq, idx`)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	for rows.Next() {
		var name, imgName, mediaType string
		var seq int
		var data []byte
		if err := rows.Scan(&name, &seq, &imgName, &mediaType, &data); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		history := turns[name]
		if seq < 0 || seq >= len(history) {
			rows.Close()
			return nil, fmt.Errorf("%w: image references missing turn %d of %q", ErrCorruptStore, seq, name)
		}
		history[seq].Images = append(history[seq].Images, conversation.Image{
			Name:      imgName,
			MediaType: mediaType,
			Data:      data,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read images: %w", err)
	}

	for name, sess := range sessions {
		for i, turn := range turns[name] {
			if err := turn.Validate(); err != nil {
				return nil, fmt.Errorf("%w: session %q turn %d: %v", ErrCorruptStore, name, i, err)
			}
		}
		sess.History = conversation.New(turns[name]...)
		sessions[name] = sess
	}

	return sessions, nil
}

// Save replaces the stored mapping in one transaction
func (s *SQLiteStore) Save(ctx context.Context, sessions map[string]Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"images", "turns", "sessions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	sessStmt, err := tx.PrepareContext(ctx, `INSERT INTO sessions (name, created_at, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare session insert: %w", err)
	}
	defer sessStmt.Close()

	turnStmt, err := tx.PrepareContext(ctx, `INSERT INTO turns (session, seq, role, text, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare turn insert: %w", err)
	}
	defer turnStmt.Close()

	imgStmt, err := tx.PrepareContext(ctx, `INSERT INTO images (session, turn_seq, idx, name, media_type, data) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare image insert: %w", err)
	}
	defer imgStmt.Close()

	for name, sess := range sessions {
		if _, err := sessStmt.ExecContext(ctx, name, sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert session %q: %w", name, err)
		}
		for seq, turn := range sess.Turns() {
			if _, err := turnStmt.ExecContext(ctx, name, seq, string(turn.Role), turn.Text, turn.CreatedAt.UnixNano()); err != nil {
				return fmt.Errorf("failed to insert turn %d of %q: %w", seq, name, err)
			}
			for idx, img := range turn.Images {
				if _, err := imgStmt.ExecContext(ctx, name, seq, idx, img.Name, img.MediaType, img.Data); err != nil {
					return fmt.Errorf("failed to insert image %d of turn %d of %q: %w", idx, seq, name, err)
				}
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES ('saved_at', ?)`, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
