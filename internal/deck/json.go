package deck

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rotewell/rote/internal/scheduler"
)

// ParseResult is the outcome of a JSON import: the cards that parsed plus a
// warning per item that had to be skipped or defaulted.
type ParseResult struct {
	Cards    []Flashcard
	Warnings []string
}

type jsonEnvelope struct {
	Cards      []json.RawMessage `json:"cards"`
	Flashcards []json.RawMessage `json:"flashcards"`
}

// ParseJSON decodes an exported card list. It accepts a bare array or an
// object wrapping the array under "cards" or "flashcards". Each item needs at
// least content.front and content.back; every other field is defaulted.
// Malformed JSON fails the whole import; an item missing required fields is
// skipped with a warning.
func ParseJSON(data []byte, owner string, now time.Time) (ParseResult, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		var env jsonEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return ParseResult{}, fmt.Errorf("invalid JSON: expected an array or {cards:[...]}: %w", err)
		}
		switch {
		case env.Cards != nil:
			items = env.Cards
		case env.Flashcards != nil:
			items = env.Flashcards
		default:
			return ParseResult{}, fmt.Errorf("invalid JSON: no cards or flashcards array found")
		}
	}

	var res ParseResult
	for i, raw := range items {
		var card Flashcard
		if err := json.Unmarshal(raw, &card); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("item %d: not an object, skipped", i))
			continue
		}
		if card.Content.Front == "" || card.Content.Back == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("item %d: missing content.front or content.back, skipped", i))
			continue
		}
		applyDefaults(&card, owner, now)
		res.Cards = append(res.Cards, card)
	}
	return res, nil
}

// applyDefaults fills every optional field of an imported card.
func applyDefaults(card *Flashcard, owner string, now time.Time) {
	if card.ID == "" {
		card.ID = uuid.New().String()
	}
	if card.SchemaVersion == "" {
		card.SchemaVersion = SchemaVersion
	}
	if card.UserID == "" {
		card.UserID = owner
	}
	if card.Source == "" {
		card.Source = "json-import"
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = now
	}
	if card.UpdatedAt.IsZero() {
		card.UpdatedAt = now
	}
	if card.Metadata.Tags == nil {
		card.Metadata.Tags = []string{}
	}
	if card.Metadata.System == "" {
		card.Metadata.System = "General"
	}
	if card.Metadata.Topic == "" {
		card.Metadata.Topic = "Imported"
	}
	if card.Metadata.Difficulty == "" {
		card.Metadata.Difficulty = DifficultyMedium
	}
	if card.SR.Phase == "" {
		card.SR = scheduler.NewState(now)
	}
	if card.SR.Ease == 0 {
		card.SR.Ease = scheduler.InitialEase
	}
}
