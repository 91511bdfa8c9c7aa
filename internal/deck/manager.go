package deck

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rotewell/rote/internal/scheduler"
)

// Persister abstracts the storage the Manager loads from at startup and
// writes through to on mutation.
type Persister interface {
	LoadCards() ([]Flashcard, error)
	SaveCards(cards []Flashcard) error
	LoadTopicStats() (map[string]TopicStat, error)
	SaveTopicStat(stat TopicStat) error
}

// Strength classification thresholds for topic retention.
const (
	weakBelow     = 0.6
	moderateBelow = 0.8
)

// TopicPerformance is the derived per-topic retention summary.
type TopicPerformance struct {
	Topic     string  `json:"topic"`
	System    string  `json:"system"`
	Attempts  int     `json:"attempts"`
	Correct   int     `json:"correct"`
	Retention float64 `json:"retentionRate"`
	Strength  string  `json:"strength"` // weak | moderate | strong
}

// FilterSpec narrows the working set for browsing.
type FilterSpec struct {
	System   string
	Rotation string
	Tag      string
	DueBy    time.Time // zero means no due filter
}

// Manager owns the authoritative in-memory card collection. All mutations go
// through it; the persister is written through after the in-memory change, and
// a save failure is surfaced without rolling the memory state back.
type Manager struct {
	mu      sync.Mutex
	persist Persister
	cards   map[string]*Flashcard
	stats   map[string]TopicStat
	logger  *slog.Logger
}

// NewManager loads the collection and topic stats from the persister.
func NewManager(p Persister) (*Manager, error) {
	cards, err := p.LoadCards()
	if err != nil {
		return nil, fmt.Errorf("loading cards: %w", err)
	}
	stats, err := p.LoadTopicStats()
	if err != nil {
		return nil, fmt.Errorf("loading topic stats: %w", err)
	}
	if stats == nil {
		stats = make(map[string]TopicStat)
	}

	m := &Manager{
		persist: p,
		cards:   make(map[string]*Flashcard, len(cards)),
		stats:   stats,
		logger:  slog.Default(),
	}
	for i := range cards {
		c := cards[i]
		m.cards[c.ID] = &c
	}
	return m, nil
}

// Count returns the collection size.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cards)
}

// Get returns a copy of one card.
func (m *Manager) Get(id string) (Flashcard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return Flashcard{}, ErrNotFound
	}
	return *c, nil
}

// AddCards merges a batch into the collection, defaulting any missing fields
// and skipping IDs already present. It returns how many cards were added; a
// persistence error is returned alongside (the in-memory merge stands).
func (m *Manager) AddCards(cards []Flashcard, owner string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var added []Flashcard
	for i := range cards {
		c := cards[i]
		applyDefaults(&c, owner, now)
		if _, exists := m.cards[c.ID]; exists {
			continue
		}
		m.cards[c.ID] = &c
		added = append(added, c)
	}
	if len(added) == 0 {
		return 0, nil
	}
	if err := m.persist.SaveCards(added); err != nil {
		return len(added), fmt.Errorf("persisting %d cards: %w", len(added), err)
	}
	return len(added), nil
}

// DueCards returns every card with nextReview at or before now, ordered by
// nextReview ascending with id as tie-break.
func (m *Manager) DueCards(now time.Time) []Flashcard {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Flashcard
	for _, c := range m.cards {
		if !c.SR.NextReview.After(now) {
			due = append(due, *c)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].SR.NextReview.Equal(due[j].SR.NextReview) {
			return due[i].SR.NextReview.Before(due[j].SR.NextReview)
		}
		return due[i].ID < due[j].ID
	})
	return due
}

// SubmitReview applies the scheduler transition to one card, records the
// outcome in the card's topic stats, and writes the card through. The updated
// card is returned even when the save fails; the error tells the caller the
// write needs retrying.
func (m *Manager) SubmitReview(id string, outcome scheduler.Outcome, now time.Time) (Flashcard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cards[id]
	if !ok {
		return Flashcard{}, ErrNotFound
	}

	c.SR = scheduler.Next(c.SR, outcome, now)
	c.UpdatedAt = now

	stat := m.stats[statKey(c.Metadata)]
	stat.Topic = c.Metadata.Topic
	stat.System = c.Metadata.System
	stat.Attempts++
	if outcome != scheduler.Again {
		stat.Correct++
	}
	m.stats[stat.Key()] = stat

	updated := *c
	if err := m.persist.SaveCards([]Flashcard{updated}); err != nil {
		return updated, fmt.Errorf("persisting review for %s: %w", id, err)
	}
	if err := m.persist.SaveTopicStat(stat); err != nil {
		m.logger.Warn("failed to persist topic stat", "topic", stat.Topic, "error", err)
	}
	return updated, nil
}

// TopicPerformance returns per-topic retention sorted ascending, so the
// weakest topics surface first.
func (m *Manager) TopicPerformance() []TopicPerformance {
	m.mu.Lock()
	defer m.mu.Unlock()

	perf := make([]TopicPerformance, 0, len(m.stats))
	for _, st := range m.stats {
		if st.Attempts == 0 {
			continue
		}
		rate := float64(st.Correct) / float64(st.Attempts)
		perf = append(perf, TopicPerformance{
			Topic:     st.Topic,
			System:    st.System,
			Attempts:  st.Attempts,
			Correct:   st.Correct,
			Retention: rate,
			Strength:  classify(rate),
		})
	}
	sort.Slice(perf, func(i, j int) bool {
		if perf[i].Retention != perf[j].Retention {
			return perf[i].Retention < perf[j].Retention
		}
		return perf[i].Topic < perf[j].Topic
	})
	return perf
}

// Filter returns the cards matching every set field of spec, in due order.
func (m *Manager) Filter(spec FilterSpec) []Flashcard {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Flashcard
	for _, c := range m.cards {
		if spec.System != "" && c.Metadata.System != spec.System {
			continue
		}
		if spec.Rotation != "" && c.Metadata.Rotation != spec.Rotation {
			continue
		}
		if spec.Tag != "" && !hasTag(c.Metadata.Tags, spec.Tag) {
			continue
		}
		if !spec.DueBy.IsZero() && c.SR.NextReview.After(spec.DueBy) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SR.NextReview.Equal(out[j].SR.NextReview) {
			return out[i].SR.NextReview.Before(out[j].SR.NextReview)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func statKey(md Metadata) string {
	return md.System + "/" + md.Topic
}

func classify(rate float64) string {
	switch {
	case rate < weakBelow:
		return "weak"
	case rate < moderateBelow:
		return "moderate"
	default:
		return "strong"
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
