package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotewell/rote/internal/deck"
	"github.com/rotewell/rote/internal/storage"
)

const testToken = "test-token"

func newTestApp(t *testing.T) (http.Handler, AppDeps) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mgr, err := deck.NewManager(store)
	if err != nil {
		t.Fatalf("creating manager: %v", err)
	}

	deps := AppDeps{Deck: mgr, Store: store, Token: testToken}
	return NewAppHandler(deps), deps
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func importCards(t *testing.T, h http.Handler, payload string) {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/cards/import", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("import returned %d: %s", rec.Code, rec.Body.String())
	}
}

const samplePayload = `{"cards": [
	{"content": {"front": "MI artery?", "back": "LAD"},
	 "metadata": {"system": "Cardiology", "topic": "Ischemia", "tags": ["high-yield"], "rotation": "medicine"}},
	{"content": {"front": "Nephrotic triad?", "back": "Proteinuria, edema, hypoalbuminemia"},
	 "metadata": {"system": "Nephrology", "topic": "Glomerular"}}
]}`

func TestHealthNoAuth(t *testing.T) {
	h, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestBearerAuthRequired(t *testing.T) {
	h, _ := newTestApp(t)

	for _, auth := range []string{"", "Bearer wrong-token", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/cards", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d, want 401", auth, rec.Code)
		}
	}
}

func TestImportAndListCards(t *testing.T) {
	h, _ := newTestApp(t)
	importCards(t, h, samplePayload)

	rec := doRequest(t, h, http.MethodGet, "/cards", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", rec.Code, rec.Body.String())
	}
	var cards []deck.Flashcard
	if err := json.Unmarshal(rec.Body.Bytes(), &cards); err != nil {
		t.Fatalf("decoding cards: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("got %d cards, want 2", len(cards))
	}

	rec = doRequest(t, h, http.MethodGet, "/cards?system=Cardiology", "")
	cards = nil
	json.Unmarshal(rec.Body.Bytes(), &cards)
	if len(cards) != 1 || cards[0].Metadata.System != "Cardiology" {
		t.Errorf("system filter returned %d cards", len(cards))
	}

	rec = doRequest(t, h, http.MethodGet, "/cards?tag=high-yield", "")
	cards = nil
	json.Unmarshal(rec.Body.Bytes(), &cards)
	if len(cards) != 1 {
		t.Errorf("tag filter returned %d cards, want 1", len(cards))
	}

	// New cards are scheduled for immediate review.
	rec = doRequest(t, h, http.MethodGet, "/cards?due=true", "")
	cards = nil
	json.Unmarshal(rec.Body.Bytes(), &cards)
	if len(cards) != 2 {
		t.Errorf("due filter returned %d cards, want 2", len(cards))
	}

	rec = doRequest(t, h, http.MethodGet, "/cards?due=not-a-time", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad due value: status = %d, want 400", rec.Code)
	}
}

func TestImportRejectsMalformedPayload(t *testing.T) {
	h, _ := newTestApp(t)

	rec := doRequest(t, h, http.MethodPost, "/cards/import", `{"cards": "nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitReview(t *testing.T) {
	h, _ := newTestApp(t)
	importCards(t, h, samplePayload)

	rec := doRequest(t, h, http.MethodGet, "/cards", "")
	var cards []deck.Flashcard
	json.Unmarshal(rec.Body.Bytes(), &cards)
	id := cards[0].ID

	rec = doRequest(t, h, http.MethodPost, "/reviews", `{"cardId": "`+id+`", "outcome": "good"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("review returned %d: %s", rec.Code, rec.Body.String())
	}
	var updated deck.Flashcard
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decoding updated card: %v", err)
	}
	if updated.SR.Reps != 1 {
		t.Errorf("reps = %d, want 1", updated.SR.Reps)
	}
	if !updated.SR.NextReview.After(cards[0].SR.NextReview) {
		t.Error("next review should move forward after a pass")
	}

	rec = doRequest(t, h, http.MethodPost, "/reviews", `{"cardId": "`+id+`", "outcome": "meh"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad outcome: status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/reviews", `{"cardId": "missing", "outcome": "good"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing card: status = %d, want 404", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/reviews", `{"outcome": "good"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing cardId: status = %d, want 400", rec.Code)
	}
}

func TestPerformanceAfterReviews(t *testing.T) {
	h, _ := newTestApp(t)
	importCards(t, h, samplePayload)

	rec := doRequest(t, h, http.MethodGet, "/cards", "")
	var cards []deck.Flashcard
	json.Unmarshal(rec.Body.Bytes(), &cards)

	for _, c := range cards {
		outcome := `"good"`
		if c.Metadata.System == "Nephrology" {
			outcome = `"again"`
		}
		doRequest(t, h, http.MethodPost, "/reviews", `{"cardId": "`+c.ID+`", "outcome": `+outcome+`}`)
	}

	rec = doRequest(t, h, http.MethodGet, "/performance", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("performance returned %d", rec.Code)
	}
	var perf []deck.TopicPerformance
	if err := json.Unmarshal(rec.Body.Bytes(), &perf); err != nil {
		t.Fatalf("decoding performance: %v", err)
	}
	if len(perf) != 2 {
		t.Fatalf("got %d topics, want 2", len(perf))
	}
	// Weakest topic first.
	if perf[0].System != "Nephrology" || perf[0].Strength != "weak" {
		t.Errorf("first topic = %+v, want weak Nephrology", perf[0])
	}
}

func TestStats(t *testing.T) {
	h, _ := newTestApp(t)
	importCards(t, h, samplePayload)

	rec := doRequest(t, h, http.MethodGet, "/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats returned %d", rec.Code)
	}
	var st DeckStats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if st.TotalCards != 2 || st.DueCards != 2 {
		t.Errorf("stats = %+v, want 2 total 2 due", st)
	}
}

func TestSessions(t *testing.T) {
	h, _ := newTestApp(t)

	rec := doRequest(t, h, http.MethodPost, "/sessions",
		`{"mode": "timed", "total": 20, "correct": 14, "topics": ["Ischemia"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("append session returned %d: %s", rec.Code, rec.Body.String())
	}
	var saved deck.SessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if saved.ID == "" || saved.FinishedAt.IsZero() {
		t.Errorf("id and finishedAt should be defaulted: %+v", saved)
	}

	rec = doRequest(t, h, http.MethodGet, "/sessions", "")
	var sums []deck.SessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sums); err != nil {
		t.Fatalf("decoding sessions: %v", err)
	}
	if len(sums) != 1 || sums[0].Correct != 14 {
		t.Errorf("sessions = %+v", sums)
	}
}

func TestSessionValidation(t *testing.T) {
	h, _ := newTestApp(t)

	for _, body := range []string{
		`{"mode": "timed", "total": 0, "correct": 0}`,
		`{"mode": "timed", "total": 10, "correct": 11}`,
		`{"mode": "timed", "total": 10, "correct": -1}`,
		`not json`,
	} {
		rec := doRequest(t, h, http.MethodPost, "/sessions", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}
