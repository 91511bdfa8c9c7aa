package deck

import (
	"strings"
	"testing"

	"github.com/rotewell/rote/internal/scheduler"
)

func TestParseJSONDefaulting(t *testing.T) {
	data := []byte(`[{"content":{"front":"Q","back":"A"}}]`)

	res, err := ParseJSON(data, "user-1", now)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(res.Cards) != 1 {
		t.Fatalf("got %d cards, want 1", len(res.Cards))
	}

	c := res.Cards[0]
	if c.ID == "" {
		t.Error("id not generated")
	}
	if c.SchemaVersion != "1.0" {
		t.Errorf("schemaVersion = %q, want 1.0", c.SchemaVersion)
	}
	if c.UserID != "user-1" {
		t.Errorf("userId = %q, want user-1", c.UserID)
	}
	if c.SR.Phase != scheduler.PhaseNew {
		t.Errorf("sr phase = %q, want new", c.SR.Phase)
	}
	if c.SR.Ease != 2.5 {
		t.Errorf("ease = %.2f, want 2.5", c.SR.Ease)
	}
	if c.Metadata.System != "General" {
		t.Errorf("system = %q, want General", c.Metadata.System)
	}
	if c.Metadata.Topic != "Imported" {
		t.Errorf("topic = %q, want Imported", c.Metadata.Topic)
	}
	if c.Metadata.Difficulty != DifficultyMedium {
		t.Errorf("difficulty = %q, want medium", c.Metadata.Difficulty)
	}
	if c.Metadata.Tags == nil || len(c.Metadata.Tags) != 0 {
		t.Errorf("tags = %v, want empty non-nil", c.Metadata.Tags)
	}
}

func TestParseJSONEnvelopes(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"bare array", `[{"content":{"front":"Q","back":"A"}}]`},
		{"cards wrapper", `{"cards":[{"content":{"front":"Q","back":"A"}}]}`},
		{"flashcards wrapper", `{"flashcards":[{"content":{"front":"Q","back":"A"}}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ParseJSON([]byte(tc.data), "u", now)
			if err != nil {
				t.Fatalf("ParseJSON: %v", err)
			}
			if len(res.Cards) != 1 {
				t.Errorf("got %d cards, want 1", len(res.Cards))
			}
		})
	}
}

func TestParseJSONIncompleteItemsSkippedWithWarning(t *testing.T) {
	data := []byte(`[
		{"content":{"front":"Q1","back":"A1"}},
		{"content":{"front":"no back"}},
		{"content":{"front":"Q2","back":"A2"}}
	]`)

	res, err := ParseJSON(data, "u", now)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(res.Cards) != 2 {
		t.Errorf("got %d cards, want 2", len(res.Cards))
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "item 1") {
		t.Errorf("warnings = %v, want one about item 1", res.Warnings)
	}
}

func TestParseJSONMalformedFailsFast(t *testing.T) {
	if _, err := ParseJSON([]byte(`{"nope":true}`), "u", now); err == nil {
		t.Error("expected error for object without card arrays")
	}
	if _, err := ParseJSON([]byte(`not json`), "u", now); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
