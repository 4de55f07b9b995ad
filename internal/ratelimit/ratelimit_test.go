package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowLocal_Capacity(t *testing.T) {
	l := New(nil, 2, time.Minute)
	ctx := context.Background()

	allowed, remaining, _ := l.Allow(ctx, "key-a")
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)

	allowed, remaining, _ = l.Allow(ctx, "key-a")
	assert.True(t, allowed)
	assert.Equal(t, 0, remaining)

	allowed, _, resetAt := l.Allow(ctx, "key-a")
	assert.False(t, allowed)
	assert.True(t, resetAt.After(time.Now()))
}

func TestAllowLocal_KeysAreIndependent(t *testing.T) {
	l := New(nil, 1, time.Minute)
	ctx := context.Background()

	allowed, _, _ := l.Allow(ctx, "key-a")
	assert.True(t, allowed)

	allowed, _, _ = l.Allow(ctx, "key-b")
	assert.True(t, allowed, "a saturated key must not affect others")

	allowed, _, _ = l.Allow(ctx, "key-a")
	assert.False(t, allowed)
}

func TestAllowLocal_WindowSlides(t *testing.T) {
	l := New(nil, 1, 30*time.Millisecond)
	ctx := context.Background()

	allowed, _, _ := l.Allow(ctx, "key-a")
	assert.True(t, allowed)

	allowed, _, _ = l.Allow(ctx, "key-a")
	assert.False(t, allowed)

	time.Sleep(40 * time.Millisecond)

	allowed, _, _ = l.Allow(ctx, "key-a")
	assert.True(t, allowed, "expired entries must fall out of the window")
}
