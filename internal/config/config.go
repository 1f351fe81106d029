package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	Chat    ChatConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
	// Token guards the management routes (/records, /memories).
	// Empty means those routes are disabled.
	Token string
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type ChatConfig struct {
	// DefaultUserID namespaces memory entries when the caller does not
	// supply a user id (CLI REPL, MCP tools).
	DefaultUserID string
	// MemoryTopK bounds how many memories the fetch path retrieves.
	MemoryTopK int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "qwen2.5",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Chat: ChatConfig{
			DefaultUserID: "default",
			MemoryTopK:    3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "celesledger-data"
		}
	}
	return filepath.Join(dir, "celesledger")
}

// Load reads configuration from the JSON config file (if present) and
// environment variables. Env vars (CELES_*) override file values.
func Load() (Config, error) {
	return loadWith(readConfigFile(configFilePath()))
}

func loadWith(file map[string]any) (Config, error) {
	cfg := defaults()

	for _, spec := range specs {
		if v, ok := file[spec.key]; ok {
			if err := spec.applyAny(&cfg, v); err != nil {
				return Config{}, fmt.Errorf("config file key %q: %w", spec.key, err)
			}
		}
		if raw := os.Getenv(spec.env); raw != "" {
			if err := spec.applyString(&cfg, raw); err != nil {
				return Config{}, fmt.Errorf("env var %s: %w", spec.env, err)
			}
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL == "" {
		return fmt.Errorf("ollama base URL must not be empty")
	}
	if cfg.Chat.MemoryTopK <= 0 {
		return fmt.Errorf("chat.memory_top_k must be positive, got %d", cfg.Chat.MemoryTopK)
	}
	return nil
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "celesledger", "config.json")
}

// readConfigFile loads the flat JSON config object. A missing file is not an
// error; a malformed one is reported and ignored so the defaults still apply.
func readConfigFile(path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", path, err)
		}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", path, err)
		return nil
	}
	return m
}

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key   string
	typ   keyType
	env   string
	apply func(cfg *Config, v any)
}

func (s keySpec) applyAny(cfg *Config, v any) error {
	switch s.typ {
	case kString:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		s.apply(cfg, str)
	case kInt:
		// JSON numbers decode as float64.
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("expected number, got %T", v)
		}
		s.apply(cfg, int(f))
	}
	return nil
}

func (s keySpec) applyString(cfg *Config, raw string) error {
	switch s.typ {
	case kString:
		s.apply(cfg, raw)
	case kInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("expected integer, got %q", raw)
		}
		s.apply(cfg, n)
	}
	return nil
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CELES_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		key: "server.token", typ: kString, env: "CELES_SERVER_TOKEN",
		apply: func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
	},
	{
		key: "ollama.base_url", typ: kString, env: "CELES_OLLAMA_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "CELES_OLLAMA_CHAT_MODEL",
		apply: func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "CELES_OLLAMA_EMBED_MODEL",
		apply: func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CELES_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		key: "chat.default_user_id", typ: kString, env: "CELES_CHAT_DEFAULT_USER_ID",
		apply: func(cfg *Config, v any) { cfg.Chat.DefaultUserID = v.(string) },
	},
	{
		key: "chat.memory_top_k", typ: kInt, env: "CELES_CHAT_MEMORY_TOP_K",
		apply: func(cfg *Config, v any) { cfg.Chat.MemoryTopK = v.(int) },
	},
	{
		key: "log.level", typ: kString, env: "CELES_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}
