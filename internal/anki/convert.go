package anki

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
)

var (
	clozeRe   = regexp.MustCompile(`\{\{c(\d+)::(.+?)(?:::(.+?))?\}\}`)
	imgRe     = regexp.MustCompile(`(?i)<img[^>]+src=["']?([^"'>\s]+)["']?[^>]*>`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
	breakRe   = regexp.MustCompile(`(?i)<(?:br\s*/?|/div|/p|/li)>`)
	spacesRe  = regexp.MustCompile(`[ \t]+`)
	newlineRe = regexp.MustCompile(`\n{3,}`)
)

// Convert normalizes every parsed note into flashcards. Cloze notes produce
// one card per distinct cloze index; other notes map their first two
// non-empty fields to front/back with the remainder concatenated into Extra.
// A note that cannot be converted is skipped and counted on the archive.
func Convert(archive *Archive, progress ProgressFunc) []Flashcard {
	if progress == nil {
		progress = func(string, float64) {}
	}

	deckByNote := make(map[int64]string, len(archive.Cards))
	for _, c := range archive.Cards {
		if _, seen := deckByNote[c.NoteID]; !seen {
			if name, ok := archive.Decks[c.DeckID]; ok {
				deckByNote[c.NoteID] = name
			}
		}
	}

	const reportEvery = 200
	var cards []Flashcard
	for i, note := range archive.Notes {
		deckName := deckByNote[note.ID]
		if deckName == "" {
			deckName = archive.DeckName
		}

		nt := archive.NoteTypes[note.ModelID]
		converted := convertNote(note, nt, deckName, archive.Media)
		if converted == nil {
			archive.SkippedNotes++
		} else {
			cards = append(cards, converted...)
		}

		if (i+1)%reportEvery == 0 && len(archive.Notes) > 0 {
			progress("Converting notes", 100*float64(i+1)/float64(len(archive.Notes)))
		}
	}

	progress(fmt.Sprintf("Converted %d flashcards", len(cards)), 100)
	return cards
}

// convertNote returns nil when the note has no usable content.
func convertNote(note Note, nt NoteType, deckName string, media map[string][]byte) []Flashcard {
	if len(note.Fields) == 0 {
		return nil
	}

	// A note is treated as cloze when its type says so, or when its first
	// field carries cloze markers anyway (common in mixed exports).
	if nt.Cloze || clozeRe.MatchString(note.Fields[0]) {
		return convertClozeNote(note, deckName, media)
	}
	return convertBasicNote(note, deckName, media)
}

func convertBasicNote(note Note, deckName string, media map[string][]byte) []Flashcard {
	var cleaned []string
	var images []string
	for _, f := range note.Fields {
		text, imgs := StripHTML(f)
		images = append(images, matchMedia(imgs, media)...)
		if text != "" {
			cleaned = append(cleaned, text)
		}
	}
	if len(cleaned) < 2 {
		return nil
	}

	card := Flashcard{
		Front:          cleaned[0],
		Back:           cleaned[1],
		DeckName:       deckName,
		Tags:           leafTags(note.TagPaths),
		TagPaths:       note.TagPaths,
		ImageFilenames: dedupe(images),
	}
	if len(cleaned) > 2 {
		card.Extra = strings.Join(cleaned[2:], "\n\n")
	}
	return []Flashcard{card}
}

func convertClozeNote(note Note, deckName string, media map[string][]byte) []Flashcard {
	field := note.Fields[0]
	_, imgs := StripHTML(field)
	images := matchMedia(imgs, media)

	var extra string
	if len(note.Fields) > 1 {
		if text, _ := StripHTML(note.Fields[1]); text != "" {
			extra = text
		}
	}

	indices := ClozeIndices(field)
	if len(indices) == 0 {
		return nil
	}

	tags := leafTags(note.TagPaths)
	cards := make([]Flashcard, 0, len(indices))
	for _, idx := range indices {
		front, back := RenderCloze(field, idx)
		front, _ = StripHTML(front)
		back, _ = StripHTML(back)
		cards = append(cards, Flashcard{
			Front:          front,
			Back:           back,
			Extra:          extra,
			DeckName:       deckName,
			Tags:           tags,
			TagPaths:       note.TagPaths,
			ImageFilenames: dedupe(images),
			Cloze:          true,
		})
	}
	return cards
}

// ClozeIndices returns the distinct cloze indices in text, ascending.
func ClozeIndices(text string) []int {
	seen := make(map[int]bool)
	for _, m := range clozeRe.FindAllStringSubmatch(text, -1) {
		var idx int
		fmt.Sscanf(m[1], "%d", &idx)
		if idx > 0 {
			seen[idx] = true
		}
	}
	indices := make([]int, 0, len(seen))
	for idx := range seen {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// RenderCloze renders one cloze index of a field: the targeted deletion is
// blanked on the front (showing its hint when present) and revealed on the
// back; every other deletion is shown in both.
func RenderCloze(text string, index int) (front, back string) {
	front = clozeRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := clozeRe.FindStringSubmatch(m)
		var idx int
		fmt.Sscanf(sub[1], "%d", &idx)
		if idx == index {
			if sub[3] != "" {
				return "[" + sub[3] + "]"
			}
			return "[...]"
		}
		return sub[2]
	})
	back = clozeRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := clozeRe.FindStringSubmatch(m)
		return sub[2]
	})
	return front, back
}

// StripHTML reduces a field to presentable text, returning the text plus any
// <img> source filenames found along the way.
func StripHTML(s string) (string, []string) {
	var images []string
	for _, m := range imgRe.FindAllStringSubmatch(s, -1) {
		images = append(images, m[1])
	}

	s = breakRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spacesRe.ReplaceAllString(s, " ")
	s = newlineRe.ReplaceAllString(s, "\n\n")

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		lines = append(lines, strings.TrimSpace(line))
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), images
}

// matchMedia keeps only image references that exist in the media manifest;
// unmatched references are dropped without failing the import.
func matchMedia(filenames []string, media map[string][]byte) []string {
	var out []string
	for _, name := range filenames {
		if _, ok := media[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// leafTags flattens hierarchical tags ("anatomy::thorax::heart") to their
// leaf segment for display. Full paths stay on the note for matching.
func leafTags(paths []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range paths {
		parts := strings.Split(p, "::")
		leaf := parts[len(parts)-1]
		if leaf == "" || seen[leaf] {
			continue
		}
		seen[leaf] = true
		out = append(out, leaf)
	}
	return out
}

func dedupe(xs []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, x := range xs {
		if seen[x] {
			continue
		}
		seen[x] = true
		out = append(out, x)
	}
	return out
}
