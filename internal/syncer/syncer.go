// Package syncer pushes imported flashcards to the remote backend in
// batches, uploading referenced media first. Failures are contained: a batch
// that cannot be written is counted and skipped, never fatal to the push.
package syncer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/rotewell/rote/internal/anki"
	"github.com/rotewell/rote/internal/deck"
	"github.com/rotewell/rote/internal/remote"
	"github.com/rotewell/rote/internal/resilience"
	"github.com/rotewell/rote/internal/scheduler"
)

const (
	batchSize     = 50
	pauseEvery    = 10 // batches
	pauseDuration = 500 * time.Millisecond
	breakerInsert = "remote-insert"
	breakerUpload = "remote-upload"

	maxSystemLen      = 50
	maxTopicLen       = 100
	maxFrontLen       = 2000
	maxBackLen        = 2000
	maxExplanationLen = 5000
)

// Progress phase weights, in percent of the whole push.
const (
	uploadWeight = 20
	insertWeight = 70
	finishWeight = 10
)

// Remote is the slice of the backend client the writer needs.
type Remote interface {
	CurrentUser(ctx context.Context) (*remote.User, error)
	Insert(ctx context.Context, table string, rows any) error
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
}

// Writer pushes converted flashcards to the remote store.
type Writer struct {
	remote   Remote
	bucket   string
	table    string
	breakers *resilience.Breakers
	retry    resilience.Config
	log      *slog.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration)
}

// Config holds the writer's target locations. Zero values fall back to the
// backend defaults.
type Config struct {
	Bucket string
	Table  string
	Retry  resilience.Config
	Logger *slog.Logger
}

// NewWriter creates a writer over the given backend.
func NewWriter(r Remote, cfg Config) *Writer {
	if cfg.Bucket == "" {
		cfg.Bucket = "flashcard-images"
	}
	if cfg.Table == "" {
		cfg.Table = "flashcards"
	}
	cfg.Retry.ApplyDefaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Writer{
		remote:   r,
		bucket:   cfg.Bucket,
		table:    cfg.Table,
		breakers: resilience.NewBreakers(),
		retry:    cfg.Retry,
		log:      cfg.Logger,
		now:      time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
}

// Result summarizes one push. Inserted+Failed equals the number of cards
// attempted; image counters are tracked separately because a card survives
// its image failing.
type Result struct {
	Inserted       int
	Failed         int
	ImagesUploaded int
	ImagesFailed   int
}

// ProgressFunc mirrors the import pipeline's progress callback.
type ProgressFunc func(message string, percent float64)

// cardRow is the PostgREST payload shape. Synced cards start with fresh
// scheduling state; the archive's own scheduling data is never carried over.
type cardRow struct {
	UserID           string   `json:"user_id"`
	Front            string   `json:"front"`
	Back             string   `json:"back"`
	Explanation      string   `json:"explanation,omitempty"`
	Images           []string `json:"images"`
	Tags             []string `json:"tags"`
	System           string   `json:"system"`
	Topic            string   `json:"topic"`
	Difficulty       string   `json:"difficulty"`
	ClinicalVignette bool     `json:"is_clinical_vignette"`
	Source           string   `json:"source"`
	SRState          string   `json:"sr_state"`
	SRInterval       int      `json:"sr_interval"`
	SREase           float64  `json:"sr_ease"`
	SRReps           int      `json:"sr_reps"`
	SRLapses         int      `json:"sr_lapses"`
	SRNextReview     string   `json:"sr_next_review"`
	CreatedAt        string   `json:"created_at"`
}

// Push uploads every card's media, then writes the cards in batches. The
// session is verified first; an invalid token aborts before anything is
// attempted. Any other failure degrades to skipped cards or images.
func (w *Writer) Push(ctx context.Context, owner string, cards []anki.Flashcard, media map[string][]byte, progress ProgressFunc) (Result, error) {
	if progress == nil {
		progress = func(string, float64) {}
	}
	var res Result

	progress("Verifying session", 0)
	user, err := w.remote.CurrentUser(ctx)
	if err != nil {
		return res, fmt.Errorf("verifying session: %w", err)
	}
	if owner == "" {
		owner = user.ID
	}

	urls := w.uploadMedia(ctx, owner, cards, media, &res, progress)

	rows := make([]cardRow, 0, len(cards))
	createdAt := w.now().UTC().Format(time.RFC3339)
	for _, c := range cards {
		rows = append(rows, w.buildRow(owner, c, urls, createdAt))
	}

	w.insertBatches(ctx, rows, &res, progress)

	progress(fmt.Sprintf("Done: %d cards synced, %d failed", res.Inserted, res.Failed), 100)
	return res, nil
}

// uploadMedia stores each referenced image once and returns the filename to
// public-URL mapping. A failed upload is logged and counted; the card keeps
// its remaining images.
func (w *Writer) uploadMedia(ctx context.Context, owner string, cards []anki.Flashcard, media map[string][]byte, res *Result, progress ProgressFunc) map[string]string {
	needed := make(map[string]bool)
	for _, c := range cards {
		for _, name := range c.ImageFilenames {
			needed[name] = true
		}
	}

	urls := make(map[string]string, len(needed))
	total := len(needed)
	done := 0
	for name := range needed {
		data, ok := media[name]
		if !ok {
			continue
		}

		if st := w.breakers.Check(breakerUpload, resilience.DefaultThreshold, resilience.DefaultResetAfter); st.Open && !st.CanRetry {
			res.ImagesFailed++
			continue
		}

		objectPath := w.objectPath(owner, name)
		var publicURL string
		outcome := resilience.Do(ctx, "upload "+name, func(ctx context.Context) error {
			var err error
			publicURL, err = w.remote.Upload(ctx, w.bucket, objectPath, data, contentTypeFor(name))
			return err
		}, w.retry)
		if outcome.Err != nil {
			w.breakers.RecordFailure(breakerUpload, resilience.DefaultThreshold)
			w.log.Warn("image upload failed, skipping", "file", name, "error", outcome.Err)
			res.ImagesFailed++
		} else {
			w.breakers.RecordSuccess(breakerUpload)
			urls[name] = publicURL
			res.ImagesUploaded++
		}

		done++
		if total > 0 {
			progress(fmt.Sprintf("Uploading images (%d/%d)", done, total),
				float64(uploadWeight)*float64(done)/float64(total))
		}
	}
	return urls
}

func (w *Writer) insertBatches(ctx context.Context, rows []cardRow, res *Result, progress ProgressFunc) {
	total := len(rows)
	batches := 0
	for start := 0; start < total; start += batchSize {
		end := min(start+batchSize, total)
		batch := rows[start:end]
		batches++

		if st := w.breakers.Check(breakerInsert, resilience.DefaultThreshold, resilience.DefaultResetAfter); st.Open && !st.CanRetry {
			res.Failed += len(batch)
			continue
		}

		outcome := resilience.Do(ctx, fmt.Sprintf("insert batch %d", batches), func(ctx context.Context) error {
			return w.remote.Insert(ctx, w.table, batch)
		}, w.retry)
		if outcome.Err != nil {
			w.breakers.RecordFailure(breakerInsert, resilience.DefaultThreshold)
			w.log.Error("batch insert failed", "cards", len(batch), "error", outcome.Err)
			res.Failed += len(batch)
		} else {
			w.breakers.RecordSuccess(breakerInsert)
			res.Inserted += len(batch)
		}

		progress(fmt.Sprintf("Syncing cards (%d/%d)", end, total),
			float64(uploadWeight)+float64(insertWeight)*float64(end)/float64(total))

		// Brief pause between long runs of batches to stay under rate limits.
		if batches%pauseEvery == 0 && end < total {
			w.sleep(ctx, pauseDuration)
		}
	}
}

func (w *Writer) buildRow(owner string, c anki.Flashcard, urls map[string]string, createdAt string) cardRow {
	var imageURLs []string
	for _, name := range c.ImageFilenames {
		if u, ok := urls[name]; ok {
			imageURLs = append(imageURLs, u)
		}
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	if imageURLs == nil {
		imageURLs = []string{}
	}
	return cardRow{
		UserID:       owner,
		Front:        truncate(c.Front, maxFrontLen),
		Back:         truncate(c.Back, maxBackLen),
		Explanation:  truncate(c.Extra, maxExplanationLen),
		Images:       imageURLs,
		Tags:         tags,
		System:       truncate(InferSystem(c), maxSystemLen),
		Topic:        truncate(c.DeckName, maxTopicLen),
		Difficulty:   deck.DifficultyMedium,
		Source:       "anki_import",
		SRState:      string(scheduler.PhaseNew),
		SREase:       scheduler.InitialEase,
		SRNextReview: createdAt,
		CreatedAt:    createdAt,
	}
}

// objectPath scopes uploads under the owner with a timestamped random prefix
// so repeated imports never collide.
func (w *Writer) objectPath(owner, filename string) string {
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return path.Join(owner, fmt.Sprintf("%d_%s_%s", w.now().UnixMilli(), hex.EncodeToString(suffix), filename))
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	default:
		return "image/jpeg"
	}
}

// systemRules maps keywords to organ systems. Order matters: the first
// matching rule wins, so more specific keywords come before broad ones.
var systemRules = []struct {
	keyword string
	system  string
}{
	{"cardio", "Cardiology"},
	{"heart", "Cardiology"},
	{"pulm", "Pulmonology"},
	{"lung", "Pulmonology"},
	{"resp", "Pulmonology"},
	{"renal", "Nephrology"},
	{"kidney", "Nephrology"},
	{"nephro", "Nephrology"},
	{"gastro", "Gastroenterology"},
	{"hepat", "Gastroenterology"},
	{"liver", "Gastroenterology"},
	{"neuro", "Neurology"},
	{"brain", "Neurology"},
	{"endo", "Endocrinology"},
	{"thyroid", "Endocrinology"},
	{"hemat", "Hematology"},
	{"heme", "Hematology"},
	{"anemia", "Hematology"},
	{"onco", "Oncology"},
	{"cancer", "Oncology"},
	{"tumor", "Oncology"},
	{"rheum", "Rheumatology"},
	{"msk", "Musculoskeletal"},
	{"muscle", "Musculoskeletal"},
	{"bone", "Musculoskeletal"},
	{"ortho", "Musculoskeletal"},
	{"derm", "Dermatology"},
	{"skin", "Dermatology"},
	{"psych", "Psychiatry"},
	{"immuno", "Immunology"},
	{"micro", "Microbiology"},
	{"bacteri", "Microbiology"},
	{"virus", "Microbiology"},
	{"viral", "Microbiology"},
	{"fungal", "Microbiology"},
	{"pharm", "Pharmacology"},
	{"drug", "Pharmacology"},
	{"repro", "Reproductive"},
	{"obstet", "Reproductive"},
	{"gyn", "Reproductive"},
	{"biochem", "Biochemistry"},
	{"genetic", "Biochemistry"},
}

// InferSystem guesses a card's organ system from its deck name, tag paths,
// and front text, in that priority order.
func InferSystem(c anki.Flashcard) string {
	haystacks := []string{strings.ToLower(c.DeckName)}
	for _, t := range c.TagPaths {
		haystacks = append(haystacks, strings.ToLower(t))
	}
	haystacks = append(haystacks, strings.ToLower(c.Front))

	for _, hay := range haystacks {
		for _, rule := range systemRules {
			if strings.Contains(hay, rule.keyword) {
				return rule.system
			}
		}
	}
	return "General"
}

// truncate shortens s to at most max runes, marking the cut with an
// ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
