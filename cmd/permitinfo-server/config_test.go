package main

import (
	"os"
	"path/filepath"
	"permitinfo-backend/internal/browser"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{
		// shared settings
		portal: { username: "jordan", password: "hunter2" },
		timeouts: { default: 5000, idle_window: 250 },
		browser: { headless: false },
	}`)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{ debug: true }`)

	t.Setenv("PORT", "8080")
	t.Setenv("PERMITINFO_USERNAME", "")
	t.Setenv("PERMITINFO_PASSWORD", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.True(t, cfg.DebugEnabled())
	require.True(t, cfg.Permitinfo().Debug)
	require.Equal(t, "jordan", cfg.Portal.Username)
	require.Equal(t, "from-env", cfg.Portal.Password)

	pcfg := cfg.Permitinfo()
	require.Equal(t, 5*time.Second, pcfg.Timeouts.Default)
	require.Equal(t, 250*time.Millisecond, pcfg.Timeouts.IdleWindow)
	require.Zero(t, pcfg.Timeouts.DetailLink)

	expected := browser.Options{
		Headless:       false,
		DefaultTimeout: 5 * time.Second,
		IdleWindow:     250 * time.Millisecond,
	}
	if diff := cmp.Diff(expected, cfg.BrowserOptions()); diff != "" {
		t.Fatal(diff)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("PERMITINFO_USERNAME", "casey")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.json5"))
	require.NoError(t, err)
	require.Equal(t, defaultPort, cfg.Port)
	require.Equal(t, "casey", cfg.Portal.Username)
	require.True(t, cfg.BrowserOptions().Headless)
}

func TestLoadConfigBadPort(t *testing.T) {
	t.Setenv("PORT", "eighty")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorContains(t, err, "apply env")
	require.ErrorContains(t, err, `"eighty"`)
}

func TestLoadConfigLocalDisablesDebug(t *testing.T) {
	t.Setenv("PORT", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{ debug: true, browser: { headless: true } }`)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{ debug: false, browser: { headless: false } }`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.False(t, cfg.DebugEnabled())
	require.False(t, cfg.Permitinfo().Debug)
	require.False(t, cfg.BrowserOptions().Headless)
}
