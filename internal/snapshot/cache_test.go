package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemCache_SetThenGet(t *testing.T) {
	c := newMemCache(time.Minute)
	rows := []Row{{"symbol": "AAPL"}}

	c.Set("gappers_up", rows, 5)
	got, seq, ok := c.Get("gappers_up")

	assert.True(t, ok)
	assert.Equal(t, int64(5), seq)
	assert.Equal(t, rows, got)
}

func TestMemCache_GetMissing(t *testing.T) {
	c := newMemCache(time.Minute)
	_, _, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestMemCache_GetExpiredByStaleness(t *testing.T) {
	c := newMemCache(10 * time.Millisecond)
	c.Set("gappers_up", nil, 1)

	time.Sleep(20 * time.Millisecond)
	_, _, ok := c.Get("gappers_up")
	assert.False(t, ok)
}

func TestMemCache_Invalidate(t *testing.T) {
	c := newMemCache(time.Minute)
	c.Set("gappers_up", nil, 1)
	c.Invalidate("gappers_up")

	_, _, ok := c.Get("gappers_up")
	assert.False(t, ok)
}

func TestMemCache_Clear_ReturnsCountAndEmptiesCache(t *testing.T) {
	c := newMemCache(time.Minute)
	c.Set("gappers_up", nil, 1)
	c.Set("losers", nil, 1)

	n := c.Clear()
	assert.Equal(t, 2, n)

	_, _, ok := c.Get("gappers_up")
	assert.False(t, ok)
}

func TestMemCache_Sequence_IgnoresStaleness(t *testing.T) {
	c := newMemCache(time.Nanosecond)
	c.Set("gappers_up", nil, 42)
	time.Sleep(time.Millisecond)

	seq, ok := c.Sequence("gappers_up")
	assert.True(t, ok)
	assert.Equal(t, int64(42), seq)
}

func TestMemCache_Sequence_Missing(t *testing.T) {
	c := newMemCache(time.Minute)
	_, ok := c.Sequence("nope")
	assert.False(t, ok)
}
