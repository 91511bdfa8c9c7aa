package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCurrentUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Errorf("apikey = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "user-1", "email": "a@b.c"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon-key", "user-token")
	u, err := c.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if u.ID != "user-1" || u.Email != "a@b.c" {
		t.Errorf("user = %+v", u)
	}
}

func TestCurrentUserUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon-key", "stale-token")
	if _, err := c.CurrentUser(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestCurrentUserEmptyIDRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon-key", "token")
	if _, err := c.CurrentUser(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestInsert(t *testing.T) {
	var gotBody []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/flashcards" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Prefer"); got != "return=minimal" {
			t.Errorf("prefer = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon", "token")
	rows := []map[string]any{{"front": "Q"}, {"front": "R"}}
	if err := c.Insert(context.Background(), "flashcards", rows); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(gotBody) != 2 {
		t.Errorf("server received %d rows, want 2", len(gotBody))
	}
}

func TestInsertSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"message":"duplicate key"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon", "token")
	err := c.Insert(context.Background(), "flashcards", []map[string]any{{"front": "Q"}})
	if err == nil || !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "duplicate key") {
		t.Errorf("err = %v, want status and body surfaced", err)
	}
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/storage/v1/object/flashcard-images/user-1/123_heart.png" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "image/png" {
			t.Errorf("content-type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "png-bytes" {
			t.Errorf("body = %q", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon", "token")
	publicURL, err := c.Upload(context.Background(), "flashcard-images", "user-1/123_heart.png",
		[]byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	want := srv.URL + "/storage/v1/object/public/flashcard-images/user-1/123_heart.png"
	if publicURL != want {
		t.Errorf("publicURL = %q, want %q", publicURL, want)
	}
}

func TestUploadUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon", "token")
	if _, err := c.Upload(context.Background(), "b", "p", nil, "image/png"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

