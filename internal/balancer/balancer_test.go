package balancer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelect_RoundRobinCycles(t *testing.T) {
	b := New()
	got := []int{
		b.Select("svc", "", 3),
		b.Select("svc", "", 3),
		b.Select("svc", "", 3),
		b.Select("svc", "", 3),
	}
	require.Equal(t, []int{0, 1, 2, 0}, got)
}

func TestSelect_RoundRobinIsPerModule(t *testing.T) {
	b := New()
	require.Equal(t, 0, b.Select("a", "", 2))
	require.Equal(t, 0, b.Select("b", "", 2))
	require.Equal(t, 1, b.Select("a", "", 2))
}

func TestSelect_ShardedIsDeterministic(t *testing.T) {
	b := New()
	first := b.Select("svc", "user-42", 3)
	second := b.Select("svc", "user-42", 3)
	require.Equal(t, first, second)
}

func TestHashKey_StableAcrossCalls(t *testing.T) {
	require.Equal(t, HashKey("user-42"), HashKey("user-42"))
	require.NotEqual(t, HashKey("user-42"), HashKey("user-99"))
}

func TestSelect_NoInstancesReturnsNegativeOne(t *testing.T) {
	b := New()
	require.Equal(t, -1, b.Select("svc", "", 0))
}
