// Package config reads and writes the TOML configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for sentinel.
type Config struct {
	HostID  string `toml:"host_id"`
	BaseDir string `toml:"base_dir"`
	LogDir  string `toml:"log_dir"`

	Mail     MailConfig     `toml:"mail"`
	Analysis AnalysisConfig `toml:"analysis"`
	Storage  StorageConfig  `toml:"storage"`
	Keys     KeyConfig      `toml:"keys"`
	Vaults   []VaultConfig  `toml:"vaults"`
	History  HistoryConfig  `toml:"history"`
	Pipeline PipelineConfig `toml:"pipeline"`
}

// MailConfig configures the mail collaborator.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MailConfig struct {
	Type string `toml:"type"` // "imap" or "memory"

	// IMAP/SMTP-specific fields (only used when Type == "imap")
	IMAPHost    string `toml:"imap_host,omitempty"`
	IMAPPort    string `toml:"imap_port,omitempty"`
	SMTPHost    string `toml:"smtp_host,omitempty"`
	SMTPPort    string `toml:"smtp_port,omitempty"`
	Username    string `toml:"username,omitempty"`
	PasswordEnv string `toml:"password_env,omitempty"` // env var holding the password
	FromAddress string `toml:"from_address,omitempty"`
	Folder      string `toml:"folder,omitempty"` // defaults to INBOX
	StartTLS    bool   `toml:"start_tls,omitempty"`
}

// AnalysisConfig configures the external analysis collaborator.
type AnalysisConfig struct {
	Type string `toml:"type"` // "openai" (default; any OpenAI-compatible endpoint) or "keyword" (model-free)

	BaseURL    string `toml:"base_url,omitempty"` // e.g. https://api.groq.com/openai/v1
	APIKeyEnv  string `toml:"api_key_env,omitempty"`
	QuickModel string `toml:"quick_model,omitempty"`
	DeepModel  string `toml:"deep_model,omitempty"`

	Retry RetryConfig `toml:"retry"`
}

// RetryConfig bounds retry behavior for analysis and mail calls.
type RetryConfig struct {
	MaxAttempts   int `toml:"max_attempts"`    // defaults to 3
	BackoffBaseMS int `toml:"backoff_base_ms"` // first delay, doubling per attempt; defaults to 500
	BackoffCapMS  int `toml:"backoff_cap_ms"`  // upper bound on a single delay; defaults to 30000
}

// BackoffBase returns the base delay as a duration.
func (c RetryConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffCap returns the delay cap as a duration.
func (c RetryConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMS) * time.Millisecond
}

// StorageConfig configures the record store.
type StorageConfig struct {
	DataDir       string `toml:"data_dir"`
	RetentionDays int    `toml:"retention_days"` // sweep horizon; defaults to 90
}

// KeyConfig holds the location of the sealed key history.
type KeyConfig struct {
	Path          string `toml:"path"`
	PassphraseEnv string `toml:"passphrase_env,omitempty"` // prompted for when unset
}

// VaultConfig configures a snapshot storage backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket       string `toml:"s3_bucket,omitempty"`
	S3Prefix       string `toml:"s3_prefix,omitempty"`
	S3Region       string `toml:"s3_region,omitempty"`
	S3AccessKeyEnv string `toml:"s3_access_key_env,omitempty"` // static credentials; default chain when unset
	S3SecretKeyEnv string `toml:"s3_secret_key_env,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// HistoryConfig configures the operation-history database.
type HistoryConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// PipelineConfig bounds pipeline concurrency and snapshot retention.
type PipelineConfig struct {
	Workers      int `toml:"workers"`       // defaults to 4
	SnapshotKeep int `toml:"snapshot_keep"` // snapshots retained after pruning; defaults to 5
}

// NewConfig creates a new Config with the provided values and sensible defaults.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Mail: MailConfig{
			Type:   "imap",
			Folder: "INBOX",
		},
		Analysis: AnalysisConfig{
			Type:       "openai",
			QuickModel: "llama-3.3-70b-versatile",
			DeepModel:  "deepseek-r1-distill-llama-70b",
			Retry:      RetryConfig{MaxAttempts: 3, BackoffBaseMS: 500, BackoffCapMS: 30000},
		},
		Storage: StorageConfig{
			DataDir:       filepath.Join(baseDir, "data"),
			RetentionDays: 90,
		},
		Keys: KeyConfig{
			Path: filepath.Join(baseDir, "keys", "history.age"),
		},
		Vaults: []VaultConfig{{
			Type:        "filesystem",
			Name:        "local",
			FSVaultRoot: filepath.Join(baseDir, "vault"),
		}},
		History: HistoryConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Pipeline: PipelineConfig{Workers: 4, SnapshotKeep: 5},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
