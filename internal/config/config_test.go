package config

import (
	"fmt"
	"path/filepath"
	"testing"
)

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
	sets   map[string]string
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", fmt.Errorf("account %q not found", account)
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.sets == nil {
		m.sets = make(map[string]string)
	}
	m.sets[service+"/"+account] = value
	return nil
}

func testBackend(t *testing.T, data map[string]any) *fileBackend {
	t.Helper()
	if data == nil {
		data = make(map[string]any)
	}
	return &fileBackend{
		path: filepath.Join(t.TempDir(), "config.json"),
		data: data,
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(testBackend(t, nil), &mockKeychain{err: fmt.Errorf("empty")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Server.MCPPort != 4601 {
		t.Errorf("Server.MCPPort = %d, want 4601", cfg.Server.MCPPort)
	}
	if cfg.Remote.Bucket != "flashcard-images" {
		t.Errorf("Remote.Bucket = %q", cfg.Remote.Bucket)
	}
	if cfg.Remote.Table != "flashcards" {
		t.Errorf("Remote.Table = %q", cfg.Remote.Table)
	}
	if cfg.Import.MaxArchiveBytes != 2<<30 {
		t.Errorf("Import.MaxArchiveBytes = %d, want 2 GB", cfg.Import.MaxArchiveBytes)
	}
	if cfg.Import.WarnArchiveBytes != 500<<20 {
		t.Errorf("Import.WarnArchiveBytes = %d, want 500 MB", cfg.Import.WarnArchiveBytes)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir should have a platform default")
	}
}

func TestBackendOverridesDefaults(t *testing.T) {
	b := testBackend(t, map[string]any{
		"server.port":              float64(9000),
		"remote.url":               "https://proj.supabase.co",
		"import.max_archive_bytes": float64(1024),
		"log.level":                "debug",
	})

	cfg, err := loadWith(b, &mockKeychain{err: fmt.Errorf("empty")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Remote.URL != "https://proj.supabase.co" {
		t.Errorf("Remote.URL = %q", cfg.Remote.URL)
	}
	if cfg.Import.MaxArchiveBytes != 1024 {
		t.Errorf("Import.MaxArchiveBytes = %d, want 1024", cfg.Import.MaxArchiveBytes)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("ROTE_SERVER_PORT", "7777")
	t.Setenv("ROTE_REMOTE_TABLE", "cards_v2")

	b := testBackend(t, map[string]any{"server.port": float64(9000)})
	cfg, err := loadWith(b, &mockKeychain{err: fmt.Errorf("empty")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want env override 7777", cfg.Server.Port)
	}
	if cfg.Remote.Table != "cards_v2" {
		t.Errorf("Remote.Table = %q, want cards_v2", cfg.Remote.Table)
	}
}

func TestInvalidEnvIntFallsBack(t *testing.T) {
	t.Setenv("ROTE_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(testBackend(t, nil), &mockKeychain{err: fmt.Errorf("empty")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want default after bad env value", cfg.Server.Port)
	}
}

func TestAccessTokenFromEnv(t *testing.T) {
	t.Setenv("ROTE_REMOTE_ACCESS_TOKEN", "env-token")

	cfg, err := loadWith(testBackend(t, nil), &mockKeychain{err: fmt.Errorf("empty")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Remote.AccessToken != "env-token" {
		t.Errorf("AccessToken = %q, want env-token", cfg.Remote.AccessToken)
	}
}

func TestAccessTokenKeychainFallback(t *testing.T) {
	kc := &mockKeychain{values: map[string]string{"rote/remote_access_token": "kc-token"}}

	cfg, err := loadWith(testBackend(t, nil), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Remote.AccessToken != "kc-token" {
		t.Errorf("AccessToken = %q, want keychain fallback", cfg.Remote.AccessToken)
	}
}

func TestSecretNotReadFromBackend(t *testing.T) {
	b := testBackend(t, map[string]any{"remote.access_token": "leaked"})

	cfg, err := loadWith(b, &mockKeychain{err: fmt.Errorf("empty")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Remote.AccessToken == "leaked" {
		t.Error("secret must not load from the config backend")
	}
}

func TestGetAPITokenGeneratesAndPersists(t *testing.T) {
	kc := &mockKeychain{err: nil, values: map[string]string{}}

	tok, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(tok) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(tok))
	}
	if kc.sets["rote/api_token"] != tok {
		t.Error("generated token was not persisted")
	}
}

func TestGetAPITokenReturnsExisting(t *testing.T) {
	kc := &mockKeychain{values: map[string]string{"rote/api_token": "existing"}}

	tok, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if tok != "existing" {
		t.Errorf("token = %q, want existing", tok)
	}
	if len(kc.sets) != 0 {
		t.Error("existing token should not be rewritten")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Remote.AccessToken = "secret-value"

	for _, ki := range ShowAll(cfg) {
		if ki.Key == "remote.access_token" || ki.Value == "secret-value" {
			t.Fatalf("secret leaked through ShowAll: %+v", ki)
		}
	}
}
