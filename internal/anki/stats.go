package anki

import "sort"

// Stats summarizes a parsed archive for the user-facing import preview.
// Computed from already-parsed data; nothing is re-read.
type Stats struct {
	DeckName     string   `json:"deckName"`
	TotalNotes   int      `json:"totalNotes"`
	TotalCards   int      `json:"totalCards"`
	TotalMedia   int      `json:"totalMedia"`
	UniqueTags   int      `json:"uniqueTags"`
	ClozeCount   int      `json:"clozeCount"`
	RegularCount int      `json:"regularCount"`
	SkippedNotes int      `json:"skippedNotes"`
	Tags         []string `json:"tags"`
}

// ComputeStats derives descriptive counts from an archive and its converted
// flashcards.
func ComputeStats(archive *Archive, cards []Flashcard) Stats {
	tagSet := make(map[string]bool)
	for _, n := range archive.Notes {
		for _, t := range n.TagPaths {
			tagSet[t] = true
		}
	}
	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	st := Stats{
		DeckName:     archive.DeckName,
		TotalNotes:   len(archive.Notes),
		TotalCards:   len(cards),
		TotalMedia:   len(archive.Media),
		UniqueTags:   len(tags),
		SkippedNotes: archive.SkippedNotes,
		Tags:         tags,
	}
	for _, c := range cards {
		if c.Cloze {
			st.ClozeCount++
		} else {
			st.RegularCount++
		}
	}
	return st
}
