package anki

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
)

// colReader extracts decks, note-types, notes, and cards from one schema
// generation of the collection database. Detection happens in readCollection;
// both variants emit the same shapes.
type colReader interface {
	read(db *sql.DB, progress ProgressFunc) (*Archive, error)
}

// legacyReader handles schema 11 collections, where deck and note-type
// definitions live as JSON blobs in the col table.
type legacyReader struct{}

func (legacyReader) read(db *sql.DB, progress ProgressFunc) (*Archive, error) {
	var modelsJSON, decksJSON string
	if err := db.QueryRow("SELECT models, decks FROM col LIMIT 1").Scan(&modelsJSON, &decksJSON); err != nil {
		return nil, classifyDBError("reading collection metadata", err)
	}

	archive := &Archive{
		Decks:     make(map[int64]string),
		NoteTypes: make(map[int64]NoteType),
	}

	var rawDecks map[string]struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(decksJSON), &rawDecks); err != nil {
		return nil, &ImportError{Kind: KindDatabase, Message: "deck definitions unreadable", Err: err}
	}
	for idStr, d := range rawDecks {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		archive.Decks[id] = d.Name
	}

	var rawModels map[string]struct {
		Name string `json:"name"`
		Type int    `json:"type"` // 0 standard, 1 cloze
		Flds []struct {
			Name string `json:"name"`
			Ord  int    `json:"ord"`
		} `json:"flds"`
	}
	if err := json.Unmarshal([]byte(modelsJSON), &rawModels); err != nil {
		return nil, &ImportError{Kind: KindDatabase, Message: "note-type definitions unreadable", Err: err}
	}
	for idStr, m := range rawModels {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		nt := NoteType{ID: id, Name: m.Name, Cloze: m.Type == 1}
		fields := make([]string, len(m.Flds))
		for _, f := range m.Flds {
			if f.Ord >= 0 && f.Ord < len(fields) {
				fields[f.Ord] = f.Name
			}
		}
		nt.Fields = fields
		archive.NoteTypes[id] = nt
	}

	if err := readNotesAndCards(db, archive, progress); err != nil {
		return nil, err
	}
	return archive, nil
}

// modernReader handles schema 14+ collections, where note-types and decks
// moved into relational tables. Note-type config is an opaque blob there, so
// cloze detection falls back to the type name; Convert additionally treats
// any note containing cloze markers as cloze.
type modernReader struct{}

func (modernReader) read(db *sql.DB, progress ProgressFunc) (*Archive, error) {
	archive := &Archive{
		Decks:     make(map[int64]string),
		NoteTypes: make(map[int64]NoteType),
	}

	rows, err := db.Query("SELECT id, name FROM decks")
	if err != nil {
		return nil, classifyDBError("reading decks", err)
	}
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, classifyDBError("scanning deck", err)
		}
		// Modern deck names join hierarchy levels with 0x1f.
		archive.Decks[id] = strings.ReplaceAll(name, fieldSep, "::")
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classifyDBError("reading decks", err)
	}

	rows, err = db.Query("SELECT id, name FROM notetypes")
	if err != nil {
		return nil, classifyDBError("reading note-types", err)
	}
	for rows.Next() {
		var nt NoteType
		if err := rows.Scan(&nt.ID, &nt.Name); err != nil {
			rows.Close()
			return nil, classifyDBError("scanning note-type", err)
		}
		nt.Cloze = strings.Contains(strings.ToLower(nt.Name), "cloze")
		archive.NoteTypes[nt.ID] = nt
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classifyDBError("reading note-types", err)
	}

	fieldRows, err := db.Query("SELECT ntid, ord, name FROM fields ORDER BY ntid, ord")
	if err != nil {
		return nil, classifyDBError("reading note-type fields", err)
	}
	defer fieldRows.Close()
	for fieldRows.Next() {
		var ntid int64
		var ord int
		var name string
		if err := fieldRows.Scan(&ntid, &ord, &name); err != nil {
			return nil, classifyDBError("scanning field", err)
		}
		nt, ok := archive.NoteTypes[ntid]
		if !ok {
			continue
		}
		nt.Fields = append(nt.Fields, name)
		archive.NoteTypes[ntid] = nt
	}
	if err := fieldRows.Err(); err != nil {
		return nil, classifyDBError("reading note-type fields", err)
	}

	if err := readNotesAndCards(db, archive, progress); err != nil {
		return nil, err
	}
	return archive, nil
}

// readNotesAndCards loads the notes and cards tables, identical across both
// schema generations. A row that fails to scan is skipped and counted, not
// fatal.
func readNotesAndCards(db *sql.DB, archive *Archive, progress ProgressFunc) error {
	var total int
	if err := db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&total); err != nil {
		return classifyDBError("counting notes", err)
	}

	rows, err := db.Query("SELECT id, mid, flds, tags FROM notes ORDER BY id")
	if err != nil {
		return classifyDBError("reading notes", err)
	}
	defer rows.Close()

	const reportEvery = 250
	read := 0
	for rows.Next() {
		var n Note
		var flds, tags string
		if err := rows.Scan(&n.ID, &n.ModelID, &flds, &tags); err != nil {
			archive.SkippedNotes++
			continue
		}
		n.Fields = strings.Split(flds, fieldSep)
		n.TagPaths = splitTags(tags)
		archive.Notes = append(archive.Notes, n)

		read++
		if read%reportEvery == 0 && total > 0 {
			pct := 20 + 65*float64(read)/float64(total)
			progress("Reading notes", pct)
		}
	}
	if err := rows.Err(); err != nil {
		return classifyDBError("reading notes", err)
	}

	cardRows, err := db.Query("SELECT nid, did, ord FROM cards ORDER BY id")
	if err != nil {
		return classifyDBError("reading cards", err)
	}
	defer cardRows.Close()
	for cardRows.Next() {
		var c CardRef
		if err := cardRows.Scan(&c.NoteID, &c.DeckID, &c.Ordinal); err != nil {
			continue
		}
		archive.Cards = append(archive.Cards, c)
	}
	return cardRows.Err()
}

// splitTags splits the space-separated tags column, dropping empties.
func splitTags(raw string) []string {
	var out []string
	for _, t := range strings.Fields(raw) {
		out = append(out, t)
	}
	return out
}
