package database

import (
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"swipetune/models"
)

const defaultHistoryLimit = 50

// Database is the swipe log. It lives in memory for the lifetime of the
// process; nothing survives a restart.
type Database struct {
	db  *sql.DB
	now func() time.Time
}

type SwipeRecord struct {
	ID        int64
	SessionID string
	TrackID   string
	Direction models.Direction
	SwipedAt  time.Time
}

func New() (*Database, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every pooled connection would otherwise get its own empty database
	db.SetMaxOpenConns(1)

	d := &Database{db: db, now: time.Now}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.WithField("module", "database").Debug("in-memory swipe log initialized")
	return d, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS swipes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			track_id TEXT NOT NULL,
			direction TEXT NOT NULL CHECK (direction IN ('left', 'right')),
			swiped_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_swipes_session ON swipes(session_id, id DESC)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// RecordSwipe appends one swipe to the log.
func (d *Database) RecordSwipe(sessionID, trackID string, direction models.Direction) error {
	if !direction.Valid() {
		return fmt.Errorf("failed to record swipe: invalid direction %q", direction)
	}
	_, err := d.db.Exec(
		`INSERT INTO swipes (session_id, track_id, direction, swiped_at) VALUES (?, ?, ?, ?)`,
		sessionID, trackID, string(direction), d.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record swipe: %w", err)
	}
	return nil
}

// History returns the most recent swipes of a session, newest first.
func (d *Database) History(sessionID string, limit int) ([]SwipeRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := d.db.Query(
		`SELECT id, session_id, track_id, direction, swiped_at
		 FROM swipes
		 WHERE session_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := []SwipeRecord{}
	for rows.Next() {
		var r SwipeRecord
		var direction, swipedAt string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.TrackID, &direction, &swipedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		r.Direction = models.Direction(direction)
		if r.SwipedAt, err = time.Parse(time.RFC3339Nano, swipedAt); err != nil {
			log.WithField("module", "database").Warnf("failed to parse swiped_at %q: %v", swipedAt, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Forget drops every swipe of a session.
func (d *Database) Forget(sessionID string) error {
	if _, err := d.db.Exec(`DELETE FROM swipes WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to forget session: %w", err)
	}
	return nil
}
