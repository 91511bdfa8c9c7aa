package anki

import (
	"archive/zip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// fieldSep separates field values inside a note's flds column.
const fieldSep = "\x1f"

// Collection database entries inside an .apkg, newest layout first. The
// zstd-compressed collection.anki21b layout is not supported; exports made
// with "support older Anki versions" checked always include one of these.
var collectionNames = []string{"collection.anki21", "collection.anki2"}

// Limits is the size policy applied before any parsing work.
type Limits struct {
	MaxBytes  int64 // hard reject above this
	WarnBytes int64 // advisory above this
}

// DefaultLimits rejects archives over 2 GiB and warns over 500 MiB.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:  2 << 30,
		WarnBytes: 500 << 20,
	}
}

// ParseArchive decodes an .apkg file with the default size limits.
func ParseArchive(path string, progress ProgressFunc) (*Archive, error) {
	return ParseArchiveWithLimits(path, DefaultLimits(), progress)
}

// ParseArchiveWithLimits decodes an .apkg: opens the ZIP container, reads the
// embedded collection database (legacy or modern layout), and loads the media
// manifest plus blobs. Runs entirely locally; no network.
func ParseArchiveWithLimits(path string, limits Limits, progress ProgressFunc) (*Archive, error) {
	if progress == nil {
		progress = func(string, float64) {}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &ImportError{Kind: KindStructure, Message: "cannot read file", Err: err}
	}
	if limits.MaxBytes > 0 && info.Size() > limits.MaxBytes {
		return nil, &ImportError{
			Kind:    KindTooLarge,
			Message: fmt.Sprintf("file is %d MB, over the %d MB limit — export a smaller subdeck", info.Size()>>20, limits.MaxBytes>>20),
		}
	}
	if limits.WarnBytes > 0 && info.Size() > limits.WarnBytes {
		progress("Large file — import may take several minutes", 0)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &ImportError{Kind: KindStructure, Message: "not a valid Anki package (ZIP archive expected)", Err: err}
	}
	defer zr.Close()

	progress("Reading archive", 5)

	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}

	colFile := findCollection(entries)
	if colFile == nil {
		if _, hasNew := entries["collection.anki21b"]; hasNew {
			return nil, &ImportError{
				Kind:    KindStructure,
				Message: "this export uses the newest Anki format — re-export with \"support older Anki versions\" checked",
			}
		}
		return nil, &ImportError{Kind: KindStructure, Message: "no collection database found in archive"}
	}

	progress("Extracting collection database", 10)

	dbPath, cleanup, err := extractToTemp(colFile)
	if err != nil {
		return nil, classifyDBError("extracting collection database", err)
	}
	defer cleanup()

	archive, err := readCollection(dbPath, progress)
	if err != nil {
		return nil, err
	}

	progress("Loading media", 90)
	archive.Media, err = readMedia(entries)
	if err != nil {
		return nil, err
	}

	progress("Archive parsed", 100)
	return archive, nil
}

func findCollection(entries map[string]*zip.File) *zip.File {
	for _, name := range collectionNames {
		if f, ok := entries[name]; ok {
			return f
		}
	}
	return nil
}

func extractToTemp(f *zip.File) (string, func(), error) {
	rc, err := f.Open()
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "rote-apkg-*.db")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return tmp.Name(), cleanup, nil
}

// readCollection opens the extracted collection database and dispatches to
// the reader matching its schema version.
func readCollection(dbPath string, progress ProgressFunc) (*Archive, error) {
	db, err := sql.Open("sqlite", "file:"+filepath.ToSlash(dbPath)+"?mode=ro")
	if err != nil {
		return nil, classifyDBError("opening collection database", err)
	}
	defer db.Close()

	var ver int
	if err := db.QueryRow("SELECT ver FROM col LIMIT 1").Scan(&ver); err != nil {
		return nil, classifyDBError("reading collection version", err)
	}

	var reader colReader
	if ver >= 14 {
		reader = modernReader{}
	} else {
		reader = legacyReader{}
	}

	archive, err := reader.read(db, progress)
	if err != nil {
		return nil, err
	}
	archive.SchemaVer = ver
	archive.DeckName = primaryDeckName(archive)
	return archive, nil
}

// primaryDeckName picks the deck holding the most cards, skipping the
// built-in Default deck when the export contains a named one.
func primaryDeckName(a *Archive) string {
	counts := make(map[int64]int)
	for _, c := range a.Cards {
		counts[c.DeckID]++
	}
	best, bestCount := "", -1
	for id, name := range a.Decks {
		if name == "Default" && len(a.Decks) > 1 {
			continue
		}
		if counts[id] > bestCount {
			best, bestCount = name, counts[id]
		}
	}
	if best == "" {
		best = "Imported Deck"
	}
	return best
}

// readMedia loads the manifest (a JSON object mapping stored entry name to
// declared filename) and the referenced blobs. A package without media is
// fine; a corrupt manifest is a structure error.
func readMedia(entries map[string]*zip.File) (map[string][]byte, error) {
	media := make(map[string][]byte)

	manifest, ok := entries["media"]
	if !ok {
		return media, nil
	}

	rc, err := manifest.Open()
	if err != nil {
		return nil, &ImportError{Kind: KindStructure, Message: "cannot open media manifest", Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, classifyDBError("reading media manifest", err)
	}

	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		// The newest format stores the manifest as compressed protobuf.
		return nil, &ImportError{
			Kind:    KindStructure,
			Message: "media manifest not recognized — re-export with \"support older Anki versions\" checked",
			Err:     err,
		}
	}

	for stored, declared := range mapping {
		f, ok := entries[stored]
		if !ok {
			continue // manifest entry without a blob: skip, don't fail
		}
		blob, err := readZipFile(f)
		if err != nil {
			return nil, classifyDBError("reading media blob "+declared, err)
		}
		media[declared] = blob
	}
	return media, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// classifyDBError maps low-level failures onto the import error taxonomy,
// distinguishing resource exhaustion from unreadable databases.
func classifyDBError(context string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "out of memory") || strings.Contains(msg, "cannot allocate") {
		return &ImportError{
			Kind:    KindMemory,
			Message: "ran out of memory while importing — export a smaller subdeck and try again",
			Err:     err,
		}
	}
	return &ImportError{Kind: KindDatabase, Message: context + " failed", Err: err}
}
