// Package anki decodes Anki package exports (.apkg) entirely locally: the
// ZIP container, the embedded SQLite collection, the media manifest, and the
// note-to-flashcard conversion including cloze deletions.
package anki

import (
	"errors"
	"fmt"
)

// ProgressFunc receives progress notifications: a human-readable message and
// a percentage in [0, 100], monotonically non-decreasing within a phase.
type ProgressFunc func(message string, percent float64)

// ErrorKind classifies import failures so callers can give actionable
// guidance.
type ErrorKind int

const (
	// KindStructure: the file is not a recognizable Anki package.
	KindStructure ErrorKind = iota
	// KindDatabase: the embedded collection database could not be read.
	KindDatabase
	// KindMemory: the parse ran out of memory.
	KindMemory
	// KindTooLarge: the file exceeds the hard size limit.
	KindTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case KindStructure:
		return "structure"
	case KindDatabase:
		return "database"
	case KindMemory:
		return "memory"
	case KindTooLarge:
		return "too-large"
	}
	return "unknown"
}

// ImportError is a classified import failure.
type ImportError struct {
	Kind    ErrorKind
	Message string // actionable, user-facing
	Err     error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ImportError) Unwrap() error { return e.Err }

// AsImportError unwraps err into an *ImportError if possible.
func AsImportError(err error) (*ImportError, bool) {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// NoteType describes a note model: its ordered field names and whether it
// generates cloze-deletion cards.
type NoteType struct {
	ID     int64
	Name   string
	Cloze  bool
	Fields []string
}

// Note is one raw note row: field values split on the collection's field
// separator, plus its tag paths as stored (hierarchies joined with "::").
type Note struct {
	ID       int64
	ModelID  int64
	Fields   []string
	TagPaths []string
}

// CardRef links a note to a deck. Scheduling columns from the source
// collection are deliberately not carried over; cards restart under this
// app's own scheduler.
type CardRef struct {
	NoteID  int64
	DeckID  int64
	Ordinal int
}

// Archive is the parsed package: owned by the import pipeline and discarded
// after conversion.
type Archive struct {
	DeckName     string
	Decks        map[int64]string
	NoteTypes    map[int64]NoteType
	Notes        []Note
	Cards        []CardRef
	Media        map[string][]byte // declared filename -> blob
	SkippedNotes int
	SchemaVer    int
}

// Flashcard is the normalized pipeline output. Image filenames refer to
// entries in the archive's media map; the sync writer resolves them into
// uploaded URIs.
type Flashcard struct {
	Front          string
	Back           string
	Extra          string
	DeckName       string
	Tags           []string // leaf segments, for display
	TagPaths       []string // full hierarchical paths, for pattern matching
	ImageFilenames []string
	Cloze          bool
}
