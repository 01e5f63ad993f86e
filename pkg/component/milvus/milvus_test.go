package milvus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	milvusopts "github.com/kart-io/lexica/pkg/options/milvus"
)

func TestWithOpTimeoutBoundsEachCall(t *testing.T) {
	c := &Client{opts: &milvusopts.Options{Timeout: 50 * time.Millisecond}}

	ctx, cancel := c.withOpTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok, "data-path calls must carry a deadline")
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 20*time.Millisecond)
}

func TestWithOpTimeoutKeepsCallerDeadline(t *testing.T) {
	c := &Client{opts: &milvusopts.Options{Timeout: time.Minute}}

	parent, parentCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer parentCancel()

	ctx, cancel := c.withOpTimeout(parent)
	defer cancel()

	// The tighter caller deadline wins.
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 20*time.Millisecond)
}

func TestWithOpTimeoutDisabled(t *testing.T) {
	c := &Client{opts: &milvusopts.Options{Timeout: 0}}

	ctx, cancel := c.withOpTimeout(context.Background())
	defer cancel()

	_, ok := ctx.Deadline()
	assert.False(t, ok)
}
