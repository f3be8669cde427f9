// Package configstore implements the Config Store (spec.md §4.B): a
// nested mapping addressable by dot-delimited paths, backed by a single
// YAML document. The teacher's pkg/config/config.go holds a flat struct
// serialised as JSON with a hand-rolled path list and env-var override
// table; this package keeps that same Load/Save/Validate/env-override
// shape but swaps the backing store for github.com/spf13/viper (the
// dot-path, multi-format config library 88lin-divinesense's cmd/divinesense
// wires up via viper.BindPFlag/BindEnv), since the spec calls for
// hierarchical dot-path access and YAML persistence that a flat JSON
// struct cannot express directly.
package configstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Store wraps a viper instance scoped to one config file, tracking a
// dirty flag that records whether Set has been called since the last
// Save. Save writes the file whether or not the store is dirty.
type Store struct {
	v      *viper.Viper
	path   string
	dirty  bool
	frozen bool
}

// envOverrides lists the environment variables applied on top of the
// loaded document, mirroring the teacher's applyEnvOverrides table
// generalised to this spec's dot-paths.
var envOverrides = map[string]string{
	"OPENAI_API_KEY":       "api.openai_key",
	"DEEPSEEK_API_KEY":     "api.deepseek_key",
	"OLLAMA_BASE_URL":      "api.ollama_base_url",
	"COMMON_SYSTEM_PROMPT": "chat.system_prompt",
	"AI1_SYSTEM_PROMPT":    "discussion.ai1_prompt",
	"AI2_SYSTEM_PROMPT":    "discussion.ai2_prompt",
	"DEBATE_COMMON_PROMPT": "debate.system_prompt",
	"DEBATE_AI1_PROMPT":    "debate.ai1_prompt",
	"DEBATE_AI2_PROMPT":    "debate.ai2_prompt",
}

// defaults seeds the store before any file is read, matching the
// teacher's DefaultConfig().
func defaults() map[string]any {
	return map[string]any{
		"api.ollama_base_url": "http://localhost:11434",
		"chat.system_prompt":  "You are a helpful assistant.",
	}
}

// ResolvePath picks the config file location per spec.md §4.B: a
// per-user data directory when frozen (packaged), or the repository
// root when running from source. frozen is a caller-supplied flag
// since Go binaries carry no reliable "am I packaged" signal of their
// own (unlike the teacher's Python-derived frozen/source split).
func ResolvePath(cliPath string, frozen bool) (string, error) {
	if cliPath != "" {
		return cliPath, nil
	}
	if frozen {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("configstore: resolve user config dir: %w", err)
		}
		return filepath.Join(dir, "dialoguecore", "config.yaml"), nil
	}
	return "config.yaml", nil
}

// Load reads path into a new Store, applying defaults first and env
// overrides last, the same precedence order as the teacher's Load. A
// missing file is not an error: Load returns a Store seeded with
// defaults, ready to be Saved on first Set.
func Load(path string, frozen bool) (*Store, error) {
	loadDotEnv(".env")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("configstore: read %s: %w", path, err)
			}
		}
	}

	s := &Store{v: v, path: path, frozen: frozen}
	s.applyEnvOverrides()
	return s, nil
}

func (s *Store) applyEnvOverrides() {
	for envVar, dotPath := range envOverrides {
		if val := os.Getenv(envVar); val != "" {
			s.v.Set(dotPath, val)
		}
	}
}

// loadDotEnv populates the process environment from a .env file, if
// present, without overwriting variables already set — grounded on the
// teacher's loadDotEnv (pkg/config/config.go) but generalised to accept
// any key instead of an allow-listed set, since this store's own
// envOverrides table already restricts which keys matter.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, val)
		}
	}
}

// GetString returns the value at dotPath, or def if unset.
func (s *Store) GetString(dotPath, def string) string {
	if !s.v.IsSet(dotPath) {
		return def
	}
	return s.v.GetString(dotPath)
}

// GetInt returns the value at dotPath, or def if unset.
func (s *Store) GetInt(dotPath string, def int) int {
	if !s.v.IsSet(dotPath) {
		return def
	}
	return s.v.GetInt(dotPath)
}

// GetFloat64 returns the value at dotPath, or def if unset.
func (s *Store) GetFloat64(dotPath string, def float64) float64 {
	if !s.v.IsSet(dotPath) {
		return def
	}
	return s.v.GetFloat64(dotPath)
}

// GetBool returns the value at dotPath, or def if unset.
func (s *Store) GetBool(dotPath string, def bool) bool {
	if !s.v.IsSet(dotPath) {
		return def
	}
	return s.v.GetBool(dotPath)
}

// Set mutates the in-memory document at dotPath and marks the store
// dirty; nothing is written to disk until Save.
func (s *Store) Set(dotPath string, value any) {
	s.v.Set(dotPath, value)
	s.dirty = true
}

// Dirty reports whether Set has been called since the last Save.
func (s *Store) Dirty() bool { return s.dirty }

// Save writes the document to its path as a single YAML document,
// creating parent directories as needed, matching the teacher's 0600
// permission choice since api.* paths carry encrypted key material.
func (s *Store) Save() error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("configstore: mkdir %s: %w", dir, err)
		}
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("configstore: write %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("configstore: chmod %s: %w", s.path, err)
	}
	s.dirty = false
	return nil
}

// Path returns the file path this store persists to.
func (s *Store) Path() string { return s.path }
