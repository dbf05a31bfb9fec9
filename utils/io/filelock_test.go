package io

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock(t *testing.T) {
	dir := t.TempDir()

	first := NewFileLock(dir)
	second := NewFileLock(dir)

	require.NoError(t, first.TryLock())
	assert.True(t, second.IsLocked())
	require.Error(t, second.TryLock())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, second.Lock(ctx, 10*time.Millisecond))

	require.NoError(t, first.Unlock())
	assert.False(t, second.IsLocked())
	require.NoError(t, second.Lock(context.Background(), 10*time.Millisecond))
	require.NoError(t, second.Unlock())
}
