package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadModuleEnv_MissingFileYieldsEmptyTable(t *testing.T) {
	env, err := LoadModuleEnv(filepath.Join(t.TempDir(), "module-env.yaml"))
	require.NoError(t, err)
	require.Empty(t, env)
}

func TestLoadModuleEnv_ParsesPerModuleTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "module-env.yaml")
	body := "chat:\n  LOG_LEVEL: debug\nauth:\n  ISSUER: statehub\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	env, err := LoadModuleEnv(path)
	require.NoError(t, err)
	require.Equal(t, "debug", env["chat"]["LOG_LEVEL"])
	require.Equal(t, "statehub", env["auth"]["ISSUER"])
}
