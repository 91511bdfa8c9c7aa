// Package storage persists the card collection, topic statistics, and the
// bounded session-summary cache in a local SQLite database.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rotewell/rote/internal/deck"
	"github.com/rotewell/rote/internal/scheduler"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// MaxSessionSummaries bounds the local result cache.
const MaxSessionSummaries = 20

// Store wraps a SQLite database holding cards, topic stats, and sessions.
// It implements deck.Persister.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "rote.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
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
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Cards ---

const cardColumns = `id, schema_version, user_id, source, created_at, updated_at,
	front, back, explanation, images, tags, system, topic, rotation, difficulty,
	is_clinical_vignette, sr_state, sr_interval, sr_ease, sr_reps, sr_lapses, sr_next_review`

// LoadCards returns the full collection.
func (s *Store) LoadCards() ([]deck.Flashcard, error) {
	rows, err := s.db.Query(`SELECT ` + cardColumns + ` FROM cards ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	defer rows.Close()

	var cards []deck.Flashcard
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// SaveCards upserts a batch in one transaction.
func (s *Store) SaveCards(cards []deck.Flashcard) error {
	if len(cards) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO cards (` + cardColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			front = excluded.front,
			back = excluded.back,
			explanation = excluded.explanation,
			images = excluded.images,
			tags = excluded.tags,
			system = excluded.system,
			topic = excluded.topic,
			rotation = excluded.rotation,
			difficulty = excluded.difficulty,
			is_clinical_vignette = excluded.is_clinical_vignette,
			sr_state = excluded.sr_state,
			sr_interval = excluded.sr_interval,
			sr_ease = excluded.sr_ease,
			sr_reps = excluded.sr_reps,
			sr_lapses = excluded.sr_lapses,
			sr_next_review = excluded.sr_next_review`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cards {
		images, err := json.Marshal(emptyIfNil(c.Content.Images))
		if err != nil {
			return fmt.Errorf("marshaling images for %s: %w", c.ID, err)
		}
		tags, err := json.Marshal(emptyIfNil(c.Metadata.Tags))
		if err != nil {
			return fmt.Errorf("marshaling tags for %s: %w", c.ID, err)
		}
		if _, err := stmt.Exec(
			c.ID, c.SchemaVersion, c.UserID, c.Source,
			c.CreatedAt.UTC().Format(time.RFC3339), c.UpdatedAt.UTC().Format(time.RFC3339),
			c.Content.Front, c.Content.Back, c.Content.Explanation, string(images),
			string(tags), c.Metadata.System, c.Metadata.Topic, c.Metadata.Rotation,
			c.Metadata.Difficulty, boolToInt(c.Metadata.ClinicalVignette),
			string(c.SR.Phase), c.SR.Interval, c.SR.Ease, c.SR.Reps, c.SR.Lapses,
			c.SR.NextReview.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("upserting card %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteCard removes one card.
func (s *Store) DeleteCard(id string) error {
	res, err := s.db.Exec(`DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (deck.Flashcard, error) {
	var c deck.Flashcard
	var createdAt, updatedAt, nextReview, images, tags, srState string
	var vignette int
	err := row.Scan(
		&c.ID, &c.SchemaVersion, &c.UserID, &c.Source, &createdAt, &updatedAt,
		&c.Content.Front, &c.Content.Back, &c.Content.Explanation, &images,
		&tags, &c.Metadata.System, &c.Metadata.Topic, &c.Metadata.Rotation,
		&c.Metadata.Difficulty, &vignette, &srState, &c.SR.Interval, &c.SR.Ease,
		&c.SR.Reps, &c.SR.Lapses, &nextReview,
	)
	if err != nil {
		return deck.Flashcard{}, fmt.Errorf("scanning card row: %w", err)
	}

	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return deck.Flashcard{}, fmt.Errorf("parsing created_at for %s: %w", c.ID, err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return deck.Flashcard{}, fmt.Errorf("parsing updated_at for %s: %w", c.ID, err)
	}
	if c.SR.NextReview, err = time.Parse(time.RFC3339, nextReview); err != nil {
		return deck.Flashcard{}, fmt.Errorf("parsing sr_next_review for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(images), &c.Content.Images); err != nil {
		return deck.Flashcard{}, fmt.Errorf("parsing images for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &c.Metadata.Tags); err != nil {
		return deck.Flashcard{}, fmt.Errorf("parsing tags for %s: %w", c.ID, err)
	}
	c.Metadata.ClinicalVignette = vignette != 0
	c.SR.Phase = scheduler.Phase(srState)
	return c, nil
}

// --- Topic stats ---

// LoadTopicStats returns all stat buckets keyed by system/topic.
func (s *Store) LoadTopicStats() (map[string]deck.TopicStat, error) {
	rows, err := s.db.Query(`SELECT key, topic, system, attempts, correct FROM topic_stats`)
	if err != nil {
		return nil, fmt.Errorf("querying topic stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]deck.TopicStat)
	for rows.Next() {
		var key string
		var st deck.TopicStat
		if err := rows.Scan(&key, &st.Topic, &st.System, &st.Attempts, &st.Correct); err != nil {
			return nil, fmt.Errorf("scanning topic stat: %w", err)
		}
		stats[key] = st
	}
	return stats, rows.Err()
}

// SaveTopicStat upserts one stat bucket.
func (s *Store) SaveTopicStat(st deck.TopicStat) error {
	_, err := s.db.Exec(`
		INSERT INTO topic_stats (key, topic, system, attempts, correct)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			attempts = excluded.attempts,
			correct = excluded.correct`,
		st.Key(), st.Topic, st.System, st.Attempts, st.Correct,
	)
	return err
}

// --- Session summaries (bounded result cache) ---

// AppendSessionSummary stores one summary and prunes everything beyond the
// MaxSessionSummaries most recent.
func (s *Store) AppendSessionSummary(sum deck.SessionSummary) error {
	topics, err := json.Marshal(emptyIfNil(sum.Topics))
	if err != nil {
		return fmt.Errorf("marshaling topics: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning session transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO session_summaries (id, finished_at, mode, total, correct, topics)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.FinishedAt.UTC().Format(time.RFC3339), sum.Mode, sum.Total, sum.Correct, string(topics),
	); err != nil {
		return fmt.Errorf("inserting session summary: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM session_summaries WHERE id NOT IN (
			SELECT id FROM session_summaries ORDER BY finished_at DESC, id DESC LIMIT ?
		)`, MaxSessionSummaries,
	); err != nil {
		return fmt.Errorf("pruning session summaries: %w", err)
	}
	return tx.Commit()
}

// RecentSessionSummaries returns up to limit summaries, newest first.
func (s *Store) RecentSessionSummaries(limit int) ([]deck.SessionSummary, error) {
	if limit <= 0 || limit > MaxSessionSummaries {
		limit = MaxSessionSummaries
	}
	rows, err := s.db.Query(`
		SELECT id, finished_at, mode, total, correct, topics
		FROM session_summaries ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying session summaries: %w", err)
	}
	defer rows.Close()

	var out []deck.SessionSummary
	for rows.Next() {
		var sum deck.SessionSummary
		var finishedAt, topics string
		if err := rows.Scan(&sum.ID, &finishedAt, &sum.Mode, &sum.Total, &sum.Correct, &topics); err != nil {
			return nil, fmt.Errorf("scanning session summary: %w", err)
		}
		if sum.FinishedAt, err = time.Parse(time.RFC3339, finishedAt); err != nil {
			return nil, fmt.Errorf("parsing finished_at for %s: %w", sum.ID, err)
		}
		if err := json.Unmarshal([]byte(topics), &sum.Topics); err != nil {
			return nil, fmt.Errorf("parsing topics for %s: %w", sum.ID, err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
