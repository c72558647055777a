package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const ConfigFileName = ".nexaview.json"

// RealtimeConfig tunes the live update channel.
type RealtimeConfig struct {
	NodeURL                  string `json:"node_url" yaml:"node_url"`
	MaxReconnectAttempts     int    `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectBaseMillis      int    `json:"reconnect_base_ms" yaml:"reconnect_base_ms"`
	ReconnectMaxMillis       int    `json:"reconnect_max_ms" yaml:"reconnect_max_ms"`
	HeartbeatIntervalSeconds int    `json:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int    `json:"heartbeat_timeout_seconds" yaml:"heartbeat_timeout_seconds"`
	SettleMillis             int    `json:"settle_ms" yaml:"settle_ms"`
	DialTimeoutSeconds       int    `json:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
}

// CoalescerConfig tunes notification grouping and reconciliation retries.
type CoalescerConfig struct {
	DebounceMillis   int `json:"debounce_ms" yaml:"debounce_ms"`
	CeilingMillis    int `json:"ceiling_ms" yaml:"ceiling_ms"`
	RetryAttempts    int `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelayMillis int `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	SyncConcurrency  int `json:"sync_concurrency" yaml:"sync_concurrency"`
}

// ResumeConfig tunes how foreground and network transitions are handled.
type ResumeConfig struct {
	StaleAfterSeconds int `json:"stale_after_seconds" yaml:"stale_after_seconds"`
	MinIntervalMillis int `json:"min_interval_ms" yaml:"min_interval_ms"`
}

// FetcherConfig tunes the balance endpoint client.
type FetcherConfig struct {
	BalanceAPIURL           string  `json:"balance_api_url" yaml:"balance_api_url"`
	UpstreamAPIURL          string  `json:"upstream_api_url" yaml:"upstream_api_url"`
	TimeoutSeconds          int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	RateLimitPerSecond      float64 `json:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	RateBurst               int     `json:"rate_burst" yaml:"rate_burst"`
	ThrottleCooldownSeconds int     `json:"throttle_cooldown_seconds" yaml:"throttle_cooldown_seconds"`
}

// Config holds application-wide settings.
type Config struct {
	StorageDir          string          `json:"storage_dir" yaml:"storage_dir"`
	DonationAddress     string          `json:"donation_address" yaml:"donation_address"`
	LogLevel            string          `json:"log_level" yaml:"log_level"`
	LogFile             string          `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	ServerPort          int             `json:"server_port" yaml:"server_port"`
	FallbackPollSeconds int             `json:"fallback_poll_seconds" yaml:"fallback_poll_seconds"`
	Realtime            RealtimeConfig  `json:"realtime" yaml:"realtime"`
	Coalescer           CoalescerConfig `json:"coalescer" yaml:"coalescer"`
	Resume              ResumeConfig    `json:"resume" yaml:"resume"`
	Fetcher             FetcherConfig   `json:"fetcher" yaml:"fetcher"`
}

// Default returns the settings used when no file exists or a field is omitted.
func Default() Config {
	return Config{
		StorageDir:          "",
		DonationAddress:     "nexa:nqtsq5g57ryq398vhaqwlr6tpa2ekjlghus8z5yv6emmj3ux",
		LogLevel:            "info",
		ServerPort:          8080,
		FallbackPollSeconds: 60,
		Realtime: RealtimeConfig{
			NodeURL:                  "wss://electrum.nexa.org:20004",
			MaxReconnectAttempts:     5,
			ReconnectBaseMillis:      2000,
			ReconnectMaxMillis:       30000,
			HeartbeatIntervalSeconds: 20,
			HeartbeatTimeoutSeconds:  45,
			SettleMillis:             500,
			DialTimeoutSeconds:       10,
		},
		Coalescer: CoalescerConfig{
			DebounceMillis:   3500,
			CeilingMillis:    6000,
			RetryAttempts:    3,
			RetryDelayMillis: 3500,
			SyncConcurrency:  4,
		},
		Resume: ResumeConfig{
			StaleAfterSeconds: 30,
			MinIntervalMillis: 2000,
		},
		Fetcher: FetcherConfig{
			BalanceAPIURL:           "http://127.0.0.1:8080",
			UpstreamAPIURL:          "https://nexaapi.deno.dev",
			TimeoutSeconds:          10,
			RateLimitPerSecond:      5,
			RateBurst:               5,
			ThrottleCooldownSeconds: 10,
		},
	}
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// StoragePath resolves the directory that holds the wallet store.
func (c Config) StoragePath(configPath string) string {
	if c.StorageDir != "" {
		return c.StorageDir
	}
	return filepath.Join(filepath.Dir(configPath), ".nexaview")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func LoadConfigFromFile(path string) (Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = f.Close() }()
	if isYAML(path) {
		return LoadYAMLConfig(f)
	}
	return LoadConfig(f)
}

// LoadConfig decodes a JSON config over the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := Default()
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadYAMLConfig decodes a YAML config over the defaults.
func LoadYAMLConfig(r io.Reader) (Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants between related settings.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Realtime.NodeURL) == "" {
		return fmt.Errorf("validation failed: realtime.node_url is empty")
	}
	if strings.TrimSpace(c.Fetcher.BalanceAPIURL) == "" {
		return fmt.Errorf("validation failed: fetcher.balance_api_url is empty")
	}
	if c.Realtime.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("validation failed: heartbeat interval must be positive")
	}
	if c.Realtime.HeartbeatTimeoutSeconds <= c.Realtime.HeartbeatIntervalSeconds {
		return fmt.Errorf("validation failed: heartbeat timeout (%ds) must exceed interval (%ds)",
			c.Realtime.HeartbeatTimeoutSeconds, c.Realtime.HeartbeatIntervalSeconds)
	}
	if c.Realtime.MaxReconnectAttempts < 1 {
		return fmt.Errorf("validation failed: max_reconnect_attempts must be at least 1")
	}
	if c.Coalescer.DebounceMillis <= 0 || c.Coalescer.CeilingMillis < c.Coalescer.DebounceMillis {
		return fmt.Errorf("validation failed: ceiling (%dms) must be at least the debounce (%dms)",
			c.Coalescer.CeilingMillis, c.Coalescer.DebounceMillis)
	}
	if c.Coalescer.RetryAttempts < 1 {
		return fmt.Errorf("validation failed: coalescer.retry_attempts must be at least 1")
	}
	return nil
}

func millis(v int) time.Duration  { return time.Duration(v) * time.Millisecond }
func seconds(v int) time.Duration { return time.Duration(v) * time.Second }

func (c RealtimeConfig) ReconnectBase() time.Duration     { return millis(c.ReconnectBaseMillis) }
func (c RealtimeConfig) ReconnectMax() time.Duration      { return millis(c.ReconnectMaxMillis) }
func (c RealtimeConfig) HeartbeatInterval() time.Duration { return seconds(c.HeartbeatIntervalSeconds) }
func (c RealtimeConfig) HeartbeatTimeout() time.Duration  { return seconds(c.HeartbeatTimeoutSeconds) }
func (c RealtimeConfig) Settle() time.Duration            { return millis(c.SettleMillis) }
func (c RealtimeConfig) DialTimeout() time.Duration       { return seconds(c.DialTimeoutSeconds) }

func (c CoalescerConfig) Debounce() time.Duration   { return millis(c.DebounceMillis) }
func (c CoalescerConfig) Ceiling() time.Duration    { return millis(c.CeilingMillis) }
func (c CoalescerConfig) RetryDelay() time.Duration { return millis(c.RetryDelayMillis) }

func (c ResumeConfig) StaleAfter() time.Duration  { return seconds(c.StaleAfterSeconds) }
func (c ResumeConfig) MinInterval() time.Duration { return millis(c.MinIntervalMillis) }

func (c FetcherConfig) Timeout() time.Duration          { return seconds(c.TimeoutSeconds) }
func (c FetcherConfig) ThrottleCooldown() time.Duration { return seconds(c.ThrottleCooldownSeconds) }

// FallbackPoll is the refresh interval used while live updates are unavailable.
func (c Config) FallbackPoll() time.Duration { return seconds(c.FallbackPollSeconds) }

func SaveConfig(cfg Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return fmt.Errorf("validation failed: encoded configuration is empty")
	}

	// Create a backup of the existing file
	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		input, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing config for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0644); err != nil {
			return fmt.Errorf("failed to write backup config: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func RestoreLastBackup(configPath string) error {
	matches, err := filepath.Glob(configPath + ".*.bak")
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no backup files found")
	}
	sort.Strings(matches)
	lastBackup := matches[len(matches)-1]

	data, err := os.ReadFile(lastBackup)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}
