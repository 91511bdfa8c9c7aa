package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rotewell/rote/internal/deck"
	"github.com/rotewell/rote/internal/scheduler"
	"github.com/rotewell/rote/internal/storage"
)

const maxImportBodySize = 10 << 20 // 10MB

// AppDeps holds the handler dependencies.
type AppDeps struct {
	Deck  *deck.Manager
	Store *storage.Store
	Token string
}

// NewAppHandler returns the local management API. Everything except the
// health probe sits behind bearer auth.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/cards", handleListCards(deps))
		r.Get("/cards/{id}", handleGetCard(deps))
		r.Post("/cards/import", handleImportCards(deps))
		r.Post("/reviews", handleSubmitReview(deps))
		r.Get("/performance", handlePerformance(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/sessions", handleListSessions(deps))
		r.Post("/sessions", handleAppendSession(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListCards(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		spec := deck.FilterSpec{
			System:   q.Get("system"),
			Rotation: q.Get("rotation"),
			Tag:      q.Get("tag"),
		}

		switch due := q.Get("due"); due {
		case "", "false":
		case "true":
			spec.DueBy = time.Now()
		default:
			t, err := time.Parse(time.RFC3339, due)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "due must be true, false, or an RFC3339 time: %v", err)
				return
			}
			spec.DueBy = t
		}

		cards := deps.Deck.Filter(spec)
		if limit := parseIntParam(r, "limit", 0, 0); limit > 0 && len(cards) > limit {
			cards = cards[:limit]
		}
		if cards == nil {
			cards = []deck.Flashcard{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cards)
	}
}

func handleGetCard(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		card, err := deps.Deck.Get(chi.URLParam(r, "id"))
		if errors.Is(err, deck.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "card not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get card: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(card)
	}
}

func handleImportCards(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}

		owner := r.URL.Query().Get("owner")
		result, err := deck.ParseJSON(data, owner, time.Now())
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid card payload: %v", err)
			return
		}

		added, err := deps.Deck.AddCards(result.Cards, owner, time.Now())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save cards: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"added":    added,
			"skipped":  len(result.Cards) - added,
			"warnings": result.Warnings,
		})
	}
}

type reviewRequest struct {
	CardID  string `json:"cardId"`
	Outcome string `json:"outcome"`
}

func handleSubmitReview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.CardID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "cardId is required")
			return
		}

		outcome, ok := scheduler.ParseOutcome(req.Outcome)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown outcome %q", req.Outcome)
			return
		}

		card, err := deps.Deck.SubmitReview(req.CardID, outcome, time.Now())
		if errors.Is(err, deck.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "card not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record review: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(card)
	}
}

func handlePerformance(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		perf := deps.Deck.TopicPerformance()
		if perf == nil {
			perf = []deck.TopicPerformance{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(perf)
	}
}

// DeckStats is the aggregate card count snapshot.
type DeckStats struct {
	TotalCards int `json:"totalCards"`
	DueCards   int `json:"dueCards"`
	Topics     int `json:"topics"`
	WeakTopics int `json:"weakTopics"`
}

func collectStats(m *deck.Manager, now time.Time) DeckStats {
	perf := m.TopicPerformance()
	st := DeckStats{
		TotalCards: m.Count(),
		DueCards:   len(m.DueCards(now)),
		Topics:     len(perf),
	}
	for _, p := range perf {
		if p.Strength == "weak" {
			st.WeakTopics++
		}
	}
	return st
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(collectStats(deps.Deck, time.Now()))
	}
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", storage.MaxSessionSummaries, storage.MaxSessionSummaries)

		sums, err := deps.Store.RecentSessionSummaries(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sessions: %v", err)
			return
		}
		if sums == nil {
			sums = []deck.SessionSummary{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sums)
	}
}

func handleAppendSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var sum deck.SessionSummary
		if err := json.NewDecoder(r.Body).Decode(&sum); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if sum.Total <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "total must be positive")
			return
		}
		if sum.Correct < 0 || sum.Correct > sum.Total {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "correct must be between 0 and total")
			return
		}
		if sum.ID == "" {
			sum.ID = uuid.New().String()
		}
		if sum.FinishedAt.IsZero() {
			sum.FinishedAt = time.Now().UTC()
		}

		if err := deps.Store.AppendSessionSummary(sum); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sum)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
