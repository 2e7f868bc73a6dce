package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWhenNoFileOrEnv(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Port)
	require.Equal(t, "modules", cfg.ModulesRoot)
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`port = 4000
modulesRoot = "/srv/modules"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.Port)
	require.Equal(t, "/srv/modules", cfg.ModulesRoot)
}

func TestLoad_EnvOverridesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`port = 4000`), 0o600))

	t.Setenv("PORT", "5000")
	t.Setenv("ORIGIN_WHITELIST", "a.example.com, b.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Port)
	require.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.OriginWhitelist)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
}
