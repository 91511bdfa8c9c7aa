package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kInt64
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ROTE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "ROTE_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ROTE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "remote.url", typ: kString, env: "ROTE_REMOTE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.URL },
	},
	{
		key: "remote.anon_key", typ: kString, env: "ROTE_REMOTE_ANON_KEY",
		apply:   func(cfg *Config, v any) { cfg.Remote.AnonKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.AnonKey },
	},
	{
		key: "remote.access_token", typ: kString, env: "ROTE_REMOTE_ACCESS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Remote.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.AccessToken },
	},
	{
		key: "remote.bucket", typ: kString, env: "ROTE_REMOTE_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Remote.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.Bucket },
	},
	{
		key: "remote.table", typ: kString, env: "ROTE_REMOTE_TABLE",
		apply:   func(cfg *Config, v any) { cfg.Remote.Table = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.Table },
	},
	{
		key: "import.max_archive_bytes", typ: kInt64, env: "ROTE_IMPORT_MAX_ARCHIVE_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Import.MaxArchiveBytes = v.(int64) },
		extract: func(cfg Config) any { return cfg.Import.MaxArchiveBytes },
	},
	{
		key: "import.warn_archive_bytes", typ: kInt64, env: "ROTE_IMPORT_WARN_ARCHIVE_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Import.WarnArchiveBytes = v.(int64) },
		extract: func(cfg Config) any { return cfg.Import.WarnArchiveBytes },
	},
	{
		key: "log.level", typ: kString, env: "ROTE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt64:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, int64(v))
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kInt64:
			if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
