package config

import (
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(nil)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Chat.MemoryTopK != 3 {
		t.Errorf("Chat.MemoryTopK = %d, want 3", cfg.Chat.MemoryTopK)
	}
	if cfg.Chat.DefaultUserID != "default" {
		t.Errorf("Chat.DefaultUserID = %q, want default", cfg.Chat.DefaultUserID)
	}
}

func TestFileValues(t *testing.T) {
	file := map[string]any{
		"server.port":       float64(9000),
		"ollama.chat_model": "mistral-nemo",
	}
	cfg, err := loadWith(file)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Ollama.ChatModel != "mistral-nemo" {
		t.Errorf("Ollama.ChatModel = %q, want mistral-nemo", cfg.Ollama.ChatModel)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CELES_SERVER_PORT", "4300")
	t.Setenv("CELES_CHAT_MEMORY_TOP_K", "5")

	file := map[string]any{"server.port": float64(9000)}
	cfg, err := loadWith(file)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4300 {
		t.Errorf("Server.Port = %d, want env override 4300", cfg.Server.Port)
	}
	if cfg.Chat.MemoryTopK != 5 {
		t.Errorf("Chat.MemoryTopK = %d, want 5", cfg.Chat.MemoryTopK)
	}
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("CELES_SERVER_PORT", "not-a-number")

	if _, err := loadWith(nil); err == nil {
		t.Fatal("loadWith with bad CELES_SERVER_PORT should fail")
	}
}

func TestValidation(t *testing.T) {
	t.Setenv("CELES_CHAT_MEMORY_TOP_K", "0")

	if _, err := loadWith(nil); err == nil {
		t.Fatal("loadWith with zero top-k should fail validation")
	}
}

func TestFileTypeMismatch(t *testing.T) {
	file := map[string]any{"server.port": "4200"}
	if _, err := loadWith(file); err == nil {
		t.Fatal("string value for int key should fail")
	}
}
