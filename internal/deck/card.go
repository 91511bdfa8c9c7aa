// Package deck owns the flashcard domain model and the in-memory card
// collection for the current user.
package deck

import (
	"errors"
	"time"

	"github.com/rotewell/rote/internal/scheduler"
)

// ErrNotFound is returned when a requested card does not exist.
var ErrNotFound = errors.New("card not found")

// SchemaVersion is the current persisted card schema version.
const SchemaVersion = "1.0"

// Difficulty levels.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Content is the card's prompt and answer material.
type Content struct {
	Front       string   `json:"front"`
	Back        string   `json:"back"`
	Explanation string   `json:"explanation,omitempty"`
	Images      []string `json:"images,omitempty"`
}

// Metadata classifies a card for browsing and performance tracking.
type Metadata struct {
	Tags             []string `json:"tags"`
	System           string   `json:"system"`   // clinical system, e.g. "Cardiology"
	Topic            string   `json:"topic"`    // free-text subtopic
	Rotation         string   `json:"rotation,omitempty"` // clinical rotation/shelf
	Difficulty       string   `json:"difficulty"`
	ClinicalVignette bool     `json:"clinicalVignette"`
}

// Flashcard is the persisted card shape. Cards are mutated only through the
// scheduler transition or explicit edits.
type Flashcard struct {
	ID            string          `json:"id"`
	SchemaVersion string          `json:"schemaVersion"`
	UserID        string          `json:"userId"`
	Source        string          `json:"source,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Content       Content         `json:"content"`
	Metadata      Metadata        `json:"metadata"`
	SR            scheduler.State `json:"spacedRepetition"`
}

// TopicStat is the rolling per-topic review tally.
type TopicStat struct {
	Topic    string
	System   string
	Attempts int
	Correct  int
}

// Key identifies a stat bucket: topic scoped under its system.
func (s TopicStat) Key() string {
	return s.System + "/" + s.Topic
}

// SessionSummary is one saved question-bank session result. The store keeps
// only the most recent ones.
type SessionSummary struct {
	ID         string    `json:"id"`
	FinishedAt time.Time `json:"finishedAt"`
	Mode       string    `json:"mode"`
	Total      int       `json:"total"`
	Correct    int       `json:"correct"`
	Topics     []string  `json:"topics,omitempty"`
}
