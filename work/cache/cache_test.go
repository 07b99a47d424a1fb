package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheSetGet(t *testing.T) {
	c := NewCache[string](time.Minute, 0)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("http://x/live", "hls")
	v, ok := c.Get("http://x/live")
	assert.True(t, ok)
	assert.Equal(t, "hls", v)
}

func TestCacheClear(t *testing.T) {
	c := NewCache[int](time.Minute, 10)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Clear()

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCacheExpires(t *testing.T) {
	c := NewCache[string](20*time.Millisecond, 0)
	c.Set("a", "x")

	assert.Eventually(t, func() bool {
		_, ok := c.Get("a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}
