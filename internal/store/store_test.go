package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBan_ActivePermabanNeverExpires(t *testing.T) {
	b := Ban{Permaban: true}
	require.True(t, b.Active(time.Now().Add(100*365*24*time.Hour)))
}

func TestBan_ActiveBeforeExpiry(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	b := Ban{ExpiresAt: &expiry}
	require.True(t, b.Active(time.Now()))
}

func TestBan_InactiveAfterExpiry(t *testing.T) {
	expiry := time.Now().Add(-time.Hour)
	b := Ban{ExpiresAt: &expiry}
	require.False(t, b.Active(time.Now()))
}

func TestBan_InactiveWithNoExpiryAndNotPermaban(t *testing.T) {
	b := Ban{}
	require.False(t, b.Active(time.Now()))
}
