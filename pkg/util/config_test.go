package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefixConfig(t *testing.T) {
	require.Equal(t, "scheduler.tick-interval", PrefixConfig("", "scheduler.tick-interval"))
	require.Equal(t, "replica2.scheduler.tick-interval", PrefixConfig("replica2", "scheduler.tick-interval"))
}
