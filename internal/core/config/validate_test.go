package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config with all required fields set for testing.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	return &cfg
}

func hasFieldError(err error, field string) bool {
	var fieldErrs criterio.FieldErrors
	if !errors.As(err, &fieldErrs) {
		return false
	}
	for _, e := range fieldErrs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestValidateDeep_ValidConfig(t *testing.T) {
	cfg := validConfig(t)
	assert.NoError(t, cfg.ValidateDeep(""))
}

func TestValidateDeep_BadScheme(t *testing.T) {
	cfg := validConfig(t)
	cfg.Server.BaseURL = "ftp://coach.example.com"

	err := cfg.ValidateDeep("")
	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.True(t, hasFieldError(err, "server.base_url"))
}

func TestValidateDeep_UnknownTheme(t *testing.T) {
	cfg := validConfig(t)
	cfg.TUI.Theme = "neon-vomit"

	err := cfg.ValidateDeep("")
	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.True(t, hasFieldError(err, "tui.theme"))
}

func TestValidateDeep_DataDirIsFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "notadir")
	require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0o644))

	cfg := validConfig(t)
	cfg.DataDir = tmpFile

	err := cfg.ValidateDeep("")
	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)

	found := false
	for _, e := range fieldErrs {
		if e.Field == "data_dir" {
			found = true
		}
	}
	assert.True(t, found, "expected error about data dir")
}

func TestValidateDeep_MissingTokenFile(t *testing.T) {
	cfg := validConfig(t)
	cfg.Server.TokenFile = filepath.Join(t.TempDir(), "missing")

	err := cfg.ValidateDeep("")
	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)

	found := false
	for _, e := range fieldErrs {
		if e.Field == "server.token_file" {
			found = true
		}
	}
	assert.True(t, found, "expected error about token file")
}

func TestValidateDeep_ConfigFileIsDirectory(t *testing.T) {
	cfg := validConfig(t)

	err := cfg.ValidateDeep(t.TempDir())
	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)

	found := false
	for _, e := range fieldErrs {
		if e.Field == "config_file" {
			found = true
		}
	}
	assert.True(t, found, "expected error about config file being a directory")
}

func TestWarnings_InlineToken(t *testing.T) {
	cfg := validConfig(t)
	cfg.Server.Token = "secret"

	warnings := cfg.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "Server", warnings[0].Category)
}
