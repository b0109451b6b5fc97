package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	BaseUrl string `json:"base_url"`
	Port    int    `json:"port"`
	Debug   bool   `json:"debug"`
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()

	err := os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		// comments are allowed
		base_url: "https://columbus.permitinfo.net",
		port: 3000,
	}`), 0600)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		port: 8080,
		debug: true,
	}`), 0600)
	require.NoError(t, err)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, testConfig{
		BaseUrl: "https://columbus.permitinfo.net",
		Port:    8080,
		Debug:   true,
	}, cfg)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSplitExt(t *testing.T) {
	cases := []struct {
		input  string
		prefix string
		ext    string
	}{
		{input: "config.json5", prefix: "config", ext: "json5"},
		{input: "config.local.json5", prefix: "config.local", ext: "json5"},
		{input: "config", prefix: "config", ext: ""},
	}
	for _, test := range cases {
		prefix, ext := splitExt(test.input)
		require.Equal(t, test.prefix, prefix)
		require.Equal(t, test.ext, ext)
	}
}

func TestReadConfigEmptyLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{ port: 3000 }`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte("\n"), 0600))

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, testConfig{Port: 3000}, cfg)
}

type envConfig struct {
	Port   int  `env:"PORT"`
	Debug  bool `env:"DEBUG"`
	Portal struct {
		Username string `env:"PERMITINFO_USERNAME"`
		Password string `env:"PERMITINFO_PASSWORD"`
	}
	Untagged string
}

func TestApplyEnv(t *testing.T) {
	cfg := envConfig{Port: 3000, Untagged: "kept"}
	cfg.Portal.Username = "jordan"
	cfg.Portal.Password = "hunter2"

	err := ApplyEnv(&cfg, map[string]string{
		"PORT":                "8080",
		"DEBUG":               "true",
		"PERMITINFO_USERNAME": "",
		"PERMITINFO_PASSWORD": "from-env",
		"Untagged":            "ignored",
	})
	require.NoError(t, err)

	expected := envConfig{Port: 8080, Debug: true, Untagged: "kept"}
	expected.Portal.Username = "jordan"
	expected.Portal.Password = "from-env"
	require.Equal(t, expected, cfg)
}

func TestApplyEnvErrors(t *testing.T) {
	var cfg envConfig
	err := ApplyEnv(&cfg, map[string]string{"PORT": "eighty"})
	require.ErrorIs(t, err, env.ParseError{})
	require.ErrorContains(t, err, `"eighty"`)

	err = ApplyEnv(cfg, map[string]string{})
	require.ErrorIs(t, err, env.NotStructPtrError{})
}

type localConfig struct {
	Debug *bool `json:"debug"`
	Port  int   `json:"port"`
}

func TestReadConfigLocalCanDisablePointerFields(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{ debug: true, port: 3000 }`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{ debug: false, port: 0 }`), 0600))

	cfg, err := ReadConfig[localConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Debug)
	require.False(t, *cfg.Debug)
	// plain zero values do not override
	require.Equal(t, 3000, cfg.Port)
}

type pointerConfig struct {
	Headless *bool  `json:"headless"`
	Port     int    `json:"port" env:"PORT"`
	Name     string `json:"name"`
}

func TestApplyEnvSkipsScalarPointers(t *testing.T) {
	headless := false
	cfg := pointerConfig{Headless: &headless}
	require.NoError(t, ApplyEnv(&cfg, map[string]string{"PORT": "8080"}))
	require.Equal(t, 8080, cfg.Port)
	require.False(t, *cfg.Headless)
}
