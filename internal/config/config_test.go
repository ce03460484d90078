package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty temp dir and clears SUGGEST_*
// variables that would leak in from the environment.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	for _, name := range []string{
		"SUGGEST_BACKEND", "SUGGEST_DATA_DIR", "SUGGEST_STORE_NAME", "SUGGEST_OP_TIMEOUT",
		"SUGGEST_TOKENIZER_CACHE_SIZE", "SUGGEST_MAX_RESULTS", "SUGGEST_IMPORT_WORKERS",
		"SUGGEST_LOG_LEVEL", "SUGGEST_METRICS_ADDR",
	} {
		t.Setenv(name, "")
	}
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, ".suggest", cfg.Store.DataDir)
	assert.Equal(t, "suggestions", cfg.Store.Name)
	assert.Equal(t, 1, cfg.Store.SchemaVersion)
	assert.Equal(t, 30*time.Second, cfg.OpTimeout())

	assert.Equal(t, 30, cfg.Tokenizer.PhraseMaxLen)
	assert.Equal(t, 20, cfg.Tokenizer.TokenMaxLen)
	assert.Equal(t, 1024, cfg.Tokenizer.CacheSize)

	assert.Equal(t, 20, cfg.Search.MaxResults)
	assert.Equal(t, runtime.NumCPU(), cfg.Import.Workers)

	assert.Equal(t, 200*time.Millisecond, cfg.WatchDebounce())
	assert.Equal(t, []string{".txt", ".md"}, cfg.Watch.Extensions)
	assert.Equal(t, "file", cfg.Watch.DocumentType)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Logging.MaxSizeMB)
	assert.Equal(t, 5, cfg.Logging.MaxFiles)
	assert.Empty(t, cfg.Metrics.Addr)

	assert.NoError(t, cfg.Validate())
}

func TestConfig_DataDir_ResolvesRelativeToProject(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, filepath.Join("/work/proj", ".suggest"), cfg.DataDir("/work/proj"))

	cfg.Store.DataDir = "/var/lib/suggest"
	assert.Equal(t, "/var/lib/suggest", cfg.DataDir("/work/proj"))
}

func TestConfig_ZeroOpTimeoutMeansUnbounded(t *testing.T) {
	cfg := NewConfig()
	cfg.Store.OpTimeout = "0"
	require.NoError(t, cfg.Validate())
	assert.Zero(t, cfg.OpTimeout())
}

// =============================================================================
// File loading
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	// Given: a directory with no .suggest.yaml
	isolate(t)
	tmpDir := t.TempDir()

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: defaults are returned without error
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Store, cfg.Store)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	// Given: a directory with .suggest.yaml
	isolate(t)
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, ".suggest.yaml"), `
version: 1
store:
  backend: bolt
  name: notes
  op_timeout: 5s
tokenizer:
  phrase_max_len: 40
  token_max_len: 12
watch:
  extensions: [".org"]
  document_type: note
`)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: all overrides are applied and untouched fields keep defaults
	require.NoError(t, err)
	assert.Equal(t, "bolt", cfg.Store.Backend)
	assert.Equal(t, "notes", cfg.Store.Name)
	assert.Equal(t, 5*time.Second, cfg.OpTimeout())
	assert.Equal(t, 40, cfg.Tokenizer.PhraseMaxLen)
	assert.Equal(t, 12, cfg.Tokenizer.TokenMaxLen)
	assert.Equal(t, 1024, cfg.Tokenizer.CacheSize)
	assert.Equal(t, []string{".org"}, cfg.Watch.Extensions)
	assert.Equal(t, "note", cfg.Watch.DocumentType)
	assert.Equal(t, ".suggest", cfg.Store.DataDir)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, ".suggest.yml"), "store:\n  backend: badger\n")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Store.Backend)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	// Given: both extensions are present
	isolate(t)
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, ".suggest.yaml"), "store:\n  name: from-yaml\n")
	writeFile(t, filepath.Join(tmpDir, ".suggest.yml"), "store:\n  name: from-yml\n")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: .yaml wins
	require.NoError(t, err)
	assert.Equal(t, "from-yaml", cfg.Store.Name)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, ".suggest.yaml"), "store: [unclosed\n")

	_, err := Load(tmpDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_InvalidFieldType_ReturnsError(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, ".suggest.yaml"), "tokenizer:\n  phrase_max_len: lots\n")

	_, err := Load(tmpDir)

	require.Error(t, err)
}

func TestLoad_InvalidValue_FailsValidation(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, ".suggest.yaml"), "store:\n  backend: postgres\n")

	_, err := Load(tmpDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "store.backend")
}

// =============================================================================
// Environment overrides
// =============================================================================

func TestLoad_EnvVarOverrides(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()
	t.Setenv("SUGGEST_BACKEND", "memory")
	t.Setenv("SUGGEST_DATA_DIR", "/tmp/suggest-data")
	t.Setenv("SUGGEST_STORE_NAME", "env")
	t.Setenv("SUGGEST_OP_TIMEOUT", "1m")
	t.Setenv("SUGGEST_TOKENIZER_CACHE_SIZE", "0")
	t.Setenv("SUGGEST_MAX_RESULTS", "7")
	t.Setenv("SUGGEST_IMPORT_WORKERS", "3")
	t.Setenv("SUGGEST_LOG_LEVEL", "debug")
	t.Setenv("SUGGEST_METRICS_ADDR", "127.0.0.1:9464")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "/tmp/suggest-data", cfg.Store.DataDir)
	assert.Equal(t, "env", cfg.Store.Name)
	assert.Equal(t, time.Minute, cfg.OpTimeout())
	assert.Equal(t, 0, cfg.Tokenizer.CacheSize)
	assert.Equal(t, 7, cfg.Search.MaxResults)
	assert.Equal(t, 3, cfg.Import.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Addr)
}

func TestLoad_EnvVarInvalidNumber_IsIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("SUGGEST_MAX_RESULTS", "many")
	t.Setenv("SUGGEST_IMPORT_WORKERS", "-2")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Search.MaxResults)
	assert.Equal(t, runtime.NumCPU(), cfg.Import.Workers)
}

// =============================================================================
// User config and precedence
// =============================================================================

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	xdg := isolate(t)
	assert.Equal(t, filepath.Join(xdg, "suggest", "config.yaml"), GetUserConfigPath())
	assert.Equal(t, filepath.Join(xdg, "suggest"), GetUserConfigDir())
}

func TestGetUserConfigPath_DefaultsToHomeConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "suggest", "config.yaml"), GetUserConfigPath())
}

func TestUserConfigExists(t *testing.T) {
	xdg := isolate(t)
	assert.False(t, UserConfigExists())

	writeFile(t, filepath.Join(xdg, "suggest", "config.yaml"), "version: 1\n")
	assert.True(t, UserConfigExists())
}

func TestLoad_Precedence(t *testing.T) {
	// Given: user config, project config and env all set the store name
	xdg := isolate(t)
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(xdg, "suggest", "config.yaml"),
		"store:\n  name: user\n  backend: bolt\nsearch:\n  max_results: 5\n")
	writeFile(t, filepath.Join(tmpDir, ".suggest.yaml"), "store:\n  name: project\n")

	// When: loading without env
	cfg, err := Load(tmpDir)

	// Then: project beats user, user beats defaults
	require.NoError(t, err)
	assert.Equal(t, "project", cfg.Store.Name)
	assert.Equal(t, "bolt", cfg.Store.Backend)
	assert.Equal(t, 5, cfg.Search.MaxResults)

	// When: env is set too
	t.Setenv("SUGGEST_STORE_NAME", "env")
	cfg, err = Load(tmpDir)

	// Then: env beats everything
	require.NoError(t, err)
	assert.Equal(t, "env", cfg.Store.Name)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "suggest", "config.yaml"), "store: [broken\n")

	_, err := Load(t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load user config")
}

// =============================================================================
// Validation
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "mysql" }, "store.backend"},
		{"empty name", func(c *Config) { c.Store.Name = "" }, "store.name"},
		{"name with separator", func(c *Config) { c.Store.Name = "a/b" }, "store.name"},
		{"schema version zero", func(c *Config) { c.Store.SchemaVersion = 0 }, "store.schema_version"},
		{"bad op timeout", func(c *Config) { c.Store.OpTimeout = "soon" }, "store.op_timeout"},
		{"negative op timeout", func(c *Config) { c.Store.OpTimeout = "-1s" }, "store.op_timeout"},
		{"zero phrase length", func(c *Config) { c.Tokenizer.PhraseMaxLen = 0 }, "tokenizer.phrase_max_len"},
		{"zero token length", func(c *Config) { c.Tokenizer.TokenMaxLen = 0 }, "tokenizer.token_max_len"},
		{"negative cache", func(c *Config) { c.Tokenizer.CacheSize = -1 }, "tokenizer.cache_size"},
		{"zero max results", func(c *Config) { c.Search.MaxResults = 0 }, "search.max_results"},
		{"zero workers", func(c *Config) { c.Import.Workers = 0 }, "import.workers"},
		{"bad debounce", func(c *Config) { c.Watch.Debounce = "later" }, "watch.debounce"},
		{"empty document type", func(c *Config) { c.Watch.DocumentType = "" }, "watch.document_type"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"negative log size", func(c *Config) { c.Logging.MaxSizeMB = -1 }, "logging.max_size_mb"},
		{"zero log files", func(c *Config) { c.Logging.MaxFiles = 0 }, "logging.max_files"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_AcceptsEmptyBackendAsDefault(t *testing.T) {
	cfg := NewConfig()
	cfg.Store.Backend = ""
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// WriteYAML
// =============================================================================

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	// Given: a modified config written as the project file
	isolate(t)
	tmpDir := t.TempDir()
	cfg := NewConfig()
	cfg.Store.Backend = "badger"
	cfg.Watch.Debounce = "1s"

	require.NoError(t, cfg.WriteYAML(filepath.Join(tmpDir, ProjectConfigName)))

	// When: loading it back
	loaded, err := Load(tmpDir)

	// Then: the values survive
	require.NoError(t, err)
	assert.Equal(t, "badger", loaded.Store.Backend)
	assert.Equal(t, time.Second, loaded.WatchDebounce())

	data, err := os.ReadFile(filepath.Join(tmpDir, ProjectConfigName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "phrase_max_len: 30")
}

func TestWriteYAML_MissingDirectory_ReturnsError(t *testing.T) {
	err := NewConfig().WriteYAML(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write config file")
}
