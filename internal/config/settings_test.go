package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Warn(string, ...any) {}
func (testLogger) Info(string, ...any) {}

func TestLoadSettings_MissingFileYieldsEmptyTable(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "settings.json"), testLogger{})
	require.NoError(t, err)
	_, ok := s.InstanceCount("chat")
	require.False(t, ok)
}

func TestLoadSettings_ParsesLoadBalancing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"loadBalancing": {"chat": 4}}`), 0o600))

	s, err := LoadSettings(path, testLogger{})
	require.NoError(t, err)

	n, ok := s.InstanceCount("chat")
	require.True(t, ok)
	require.Equal(t, 4, n)
}

func TestSettings_WatchPicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"loadBalancing": {"chat": 1}}`), 0o600))

	s, err := LoadSettings(path, testLogger{})
	require.NoError(t, err)

	stop := make(chan struct{})
	defer close(stop)
	require.NoError(t, s.Watch(stop))

	require.NoError(t, os.WriteFile(path, []byte(`{"loadBalancing": {"chat": 7}}`), 0o600))

	require.Eventually(t, func() bool {
		n, ok := s.InstanceCount("chat")
		return ok && n == 7
	}, 3*time.Second, 20*time.Millisecond)
}
