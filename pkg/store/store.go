// Package store persists confirmed matches in a local SQLite database
// so hits survive restarts and stay queryable after the stream moves
// on.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/0xdap/certsquat/pkg/types"
)

const schema = `CREATE TABLE IF NOT EXISTS matches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	pattern TEXT NOT NULL,
	root_domain TEXT,
	addresses TEXT,
	seen_at TIMESTAMP NOT NULL,
	UNIQUE(run_id, domain)
)`

// Store is a match database. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open creates or opens the match database at path and ensures the
// schema exists. Pass ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open match database: %w", err)
	}
	// SQLite allows a single writer. One pooled connection keeps
	// readers from tripping over SQLITE_BUSY, and keeps ":memory:"
	// databases from resetting between calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create matches table: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert records one match. Re-inserting a domain already recorded
// for the same run is a no-op.
func (s *Store) Insert(event types.MatchEvent) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO matches (run_id, domain, pattern, root_domain, addresses, seen_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, event.Domain, event.Pattern, event.RootDomain,
		strings.Join(event.Addresses, ","), event.Seen.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert match %s: %w", event.Domain, err)
	}
	return nil
}

// Recent returns matches seen at or after since, oldest first.
func (s *Store) Recent(since time.Time) ([]types.MatchEvent, error) {
	rows, err := s.db.Query(
		`SELECT run_id, domain, pattern, root_domain, addresses, seen_at
		 FROM matches WHERE seen_at >= ? ORDER BY seen_at, id`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []types.MatchEvent
	for rows.Next() {
		var e types.MatchEvent
		var addresses string
		if err := rows.Scan(&e.RunID, &e.Domain, &e.Pattern, &e.RootDomain, &addresses, &e.Seen); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if addresses != "" {
			e.Addresses = strings.Split(addresses, ",")
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read matches: %w", err)
	}
	return events, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
