package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewind/tradewind/internal/net/ratelimit"
)

func TestLimiterStatus(t *testing.T) {
	l := ratelimit.NewLimiter(5, 10)
	assert.Equal(t, "idle", limiterStatus(l))

	require.NoError(t, l.Wait(context.Background(), "api.exchange.example.com"))

	out := limiterStatus(l)
	assert.Contains(t, out, "api.exchange.example.com")
	assert.Contains(t, out, "/10 tokens")
}
