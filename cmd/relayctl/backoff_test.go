package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	b := NewBackoff()

	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		d, ok := b.Next()
		assert.True(t, ok, "attempt %d", i)
		assert.Equal(t, w, d, "attempt %d", i)
	}
	_, ok := b.Next()
	assert.False(t, ok)

	b.Reset()
	d, ok := b.Next()
	assert.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, d)
}
