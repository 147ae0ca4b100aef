package redisq

import (
	"context"
	"graceq/internal/config"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(config.Redis{Addr: mr.Addr(), KeyPrefix: "test:"})
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Connect(context.Background()))
	return c, mr
}
