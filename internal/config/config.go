package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/suggest/internal/kv"
)

// ProjectConfigName is the project-level configuration file name.
const ProjectConfigName = ".suggest.yaml"

// Config represents the complete suggest configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Tokenizer TokenizerConfig `yaml:"tokenizer" json:"tokenizer"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Import    ImportConfig    `yaml:"import" json:"import"`
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// StoreConfig configures the document store.
type StoreConfig struct {
	// Backend selects the store engine: sqlite (default), bolt, badger or memory.
	Backend string `yaml:"backend" json:"backend"`
	// DataDir holds the store files. Relative paths resolve against the
	// project directory.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// Name is the store name and the base name of its files.
	Name string `yaml:"name" json:"name"`
	// SchemaVersion is the store schema version to open with.
	SchemaVersion int `yaml:"schema_version" json:"schema_version"`
	// OpTimeout bounds one index operation (e.g. "30s", "0" = unbounded).
	OpTimeout string `yaml:"op_timeout" json:"op_timeout"`
}

// TokenizerConfig configures prefix generation.
type TokenizerConfig struct {
	PhraseMaxLen int `yaml:"phrase_max_len" json:"phrase_max_len"`
	TokenMaxLen  int `yaml:"token_max_len" json:"token_max_len"`
	// CacheSize is the number of tokenized texts kept in memory (0 = off).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// SearchConfig configures query handling.
type SearchConfig struct {
	// MaxResults is the default result limit of the search command.
	MaxResults int `yaml:"max_results" json:"max_results"`
}

// ImportConfig configures bulk import.
type ImportConfig struct {
	// Workers is the number of concurrent upserts.
	Workers int `yaml:"workers" json:"workers"`
}

// WatchConfig configures directory watching.
type WatchConfig struct {
	Debounce     string   `yaml:"debounce" json:"debounce"`
	Extensions   []string `yaml:"extensions" json:"extensions"`
	DocumentType string   `yaml:"document_type" json:"document_type"`
}

// LoggingConfig configures file logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// MaxSizeMB is the size at which the log file rotates.
	MaxSizeMB int `yaml:"max_size_mb" json:"max_size_mb"`
	// MaxFiles is the number of rotated log files kept.
	MaxFiles int `yaml:"max_files" json:"max_files"`
}

// MetricsConfig configures the Prometheus endpoint of long-running commands.
type MetricsConfig struct {
	// Addr is the listen address (e.g. "127.0.0.1:9464"). Empty disables it.
	Addr string `yaml:"addr" json:"addr"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Backend:       string(kv.BackendSQLite),
			DataDir:       ".suggest",
			Name:          "suggestions",
			SchemaVersion: 1,
			OpTimeout:     "30s",
		},
		Tokenizer: TokenizerConfig{
			PhraseMaxLen: 30,
			TokenMaxLen:  20,
			CacheSize:    1024,
		},
		Search: SearchConfig{
			MaxResults: 20,
		},
		Import: ImportConfig{
			Workers: runtime.NumCPU(),
		},
		Watch: WatchConfig{
			Debounce:     "200ms",
			Extensions:   []string{".txt", ".md"},
			DocumentType: "file",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/suggest/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/suggest/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "suggest", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "suggest", "config.yaml")
	}
	return filepath.Join(home, ".config", "suggest", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var cfg Config
	if err := readYAML(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &cfg, nil
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/suggest/config.yaml)
//  3. Project config (.suggest.yaml in dir)
//  4. Environment variables (SUGGEST_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .suggest.yaml or .suggest.yml.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{ProjectConfigName, ".suggest.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		var parsed Config
		if err := readYAML(path, &parsed); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func readYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.DataDir != "" {
		c.Store.DataDir = other.Store.DataDir
	}
	if other.Store.Name != "" {
		c.Store.Name = other.Store.Name
	}
	if other.Store.SchemaVersion != 0 {
		c.Store.SchemaVersion = other.Store.SchemaVersion
	}
	if other.Store.OpTimeout != "" {
		c.Store.OpTimeout = other.Store.OpTimeout
	}

	if other.Tokenizer.PhraseMaxLen != 0 {
		c.Tokenizer.PhraseMaxLen = other.Tokenizer.PhraseMaxLen
	}
	if other.Tokenizer.TokenMaxLen != 0 {
		c.Tokenizer.TokenMaxLen = other.Tokenizer.TokenMaxLen
	}
	if other.Tokenizer.CacheSize != 0 {
		c.Tokenizer.CacheSize = other.Tokenizer.CacheSize
	}

	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Import.Workers != 0 {
		c.Import.Workers = other.Import.Workers
	}

	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if len(other.Watch.Extensions) > 0 {
		c.Watch.Extensions = other.Watch.Extensions
	}
	if other.Watch.DocumentType != "" {
		c.Watch.DocumentType = other.Watch.DocumentType
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}

// applyEnvOverrides applies SUGGEST_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SUGGEST_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("SUGGEST_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("SUGGEST_STORE_NAME"); v != "" {
		c.Store.Name = v
	}
	if v := os.Getenv("SUGGEST_OP_TIMEOUT"); v != "" {
		c.Store.OpTimeout = v
	}
	if v := os.Getenv("SUGGEST_TOKENIZER_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Tokenizer.CacheSize = n
		}
	}
	if v := os.Getenv("SUGGEST_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxResults = n
		}
	}
	if v := os.Getenv("SUGGEST_IMPORT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Import.Workers = n
		}
	}
	if v := os.Getenv("SUGGEST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SUGGEST_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if _, err := kv.ParseBackend(c.Store.Backend); err != nil {
		return fmt.Errorf("store.backend: %w", err)
	}
	if c.Store.Name == "" {
		return fmt.Errorf("store.name must not be empty")
	}
	if strings.ContainsAny(c.Store.Name, `/\`) {
		return fmt.Errorf("store.name must be a plain file name, got %s", c.Store.Name)
	}
	if c.Store.SchemaVersion < 1 {
		return fmt.Errorf("store.schema_version must be at least 1, got %d", c.Store.SchemaVersion)
	}
	if _, err := parseDuration(c.Store.OpTimeout); err != nil {
		return fmt.Errorf("store.op_timeout: %w", err)
	}

	if c.Tokenizer.PhraseMaxLen <= 0 {
		return fmt.Errorf("tokenizer.phrase_max_len must be positive, got %d", c.Tokenizer.PhraseMaxLen)
	}
	if c.Tokenizer.TokenMaxLen <= 0 {
		return fmt.Errorf("tokenizer.token_max_len must be positive, got %d", c.Tokenizer.TokenMaxLen)
	}
	if c.Tokenizer.CacheSize < 0 {
		return fmt.Errorf("tokenizer.cache_size must be non-negative, got %d", c.Tokenizer.CacheSize)
	}

	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Import.Workers <= 0 {
		return fmt.Errorf("import.workers must be positive, got %d", c.Import.Workers)
	}

	if _, err := parseDuration(c.Watch.Debounce); err != nil {
		return fmt.Errorf("watch.debounce: %w", err)
	}
	if c.Watch.DocumentType == "" {
		return fmt.Errorf("watch.document_type must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("logging.max_size_mb must be positive, got %d", c.Logging.MaxSizeMB)
	}
	if c.Logging.MaxFiles <= 0 {
		return fmt.Errorf("logging.max_files must be positive, got %d", c.Logging.MaxFiles)
	}

	return nil
}

// parseDuration accepts Go duration strings; "" and "0" mean zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative, got %s", s)
	}
	return d, nil
}

// OpTimeout returns the parsed store.op_timeout.
func (c *Config) OpTimeout() time.Duration {
	d, _ := parseDuration(c.Store.OpTimeout)
	return d
}

// WatchDebounce returns the parsed watch.debounce.
func (c *Config) WatchDebounce() time.Duration {
	d, _ := parseDuration(c.Watch.Debounce)
	return d
}

// DataDir returns store.data_dir resolved against projectDir.
func (c *Config) DataDir(projectDir string) string {
	if filepath.IsAbs(c.Store.DataDir) {
		return c.Store.DataDir
	}
	return filepath.Join(projectDir, c.Store.DataDir)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
