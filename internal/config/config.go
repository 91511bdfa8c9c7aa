package config

import "strings"

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Remote  RemoteConfig
	Import  ImportConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type StorageConfig struct {
	DataDir string
}

// RemoteConfig points at the hosted Supabase project used by `rote push`.
// AccessToken is a secret and never read from the config backend.
type RemoteConfig struct {
	URL         string
	AnonKey     string
	AccessToken string
	Bucket      string
	Table       string
}

type ImportConfig struct {
	MaxArchiveBytes  int64
	WarnArchiveBytes int64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Remote: RemoteConfig{
			Bucket: "flashcard-images",
			Table:  "flashcards",
		},
		Import: ImportConfig{
			MaxArchiveBytes:  2 << 30,   // 2 GB hard limit
			WarnArchiveBytes: 500 << 20, // 500 MB advisory
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.rotewell.rote) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/rote/config.json
// and secrets live in $XDG_DATA_HOME/rote/secrets.json.
//
// Environment variables (ROTE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// The remote access token is push-only: loading succeeds without it and
	// the push command reports the gap with guidance.
	if cfg.Remote.AccessToken == "" {
		if tok, err := kc.Get(keychainService, "remote_access_token"); err == nil {
			cfg.Remote.AccessToken = strings.TrimSpace(tok)
		}
	}

	return cfg, nil
}
