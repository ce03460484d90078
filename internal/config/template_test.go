package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/suggest/configs"
)

func TestExampleConfig_MatchesDefaults(t *testing.T) {
	// Given: the embedded template used as a project config
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), configs.ExampleConfig)

	// When: loading it
	cfg, err := Load(dir)

	// Then: it parses and describes the built-in defaults
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}
