package cache

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitemirror/pkg/utils"
)

func newTestCache(t *testing.T) *BadgerCache {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := Open(t.TempDir(), logrus.NewEntry(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestStoreAndLoad(t *testing.T) {
	c := newTestCache(t)

	entry := Entry{ETag: `"abc123"`, LastModified: "Wed, 01 Jan 2025 00:00:00 GMT", ContentType: "text/html"}
	require.NoError(t, c.Store("https://example.com/page", []byte("<html>hi</html>"), entry))

	body, got, err := c.Load("https://example.com/page")
	require.NoError(t, err)
	assert.Equal(t, []byte("<html>hi</html>"), body)
	assert.Equal(t, entry, got)
}

func TestValidators(t *testing.T) {
	c := newTestCache(t)

	_, ok := c.Validators("https://example.com/miss")
	assert.False(t, ok)

	entry := Entry{ETag: `"v1"`}
	require.NoError(t, c.Store("https://example.com/hit", []byte("x"), entry))

	got, ok := c.Validators("https://example.com/hit")
	assert.True(t, ok)
	assert.Equal(t, `"v1"`, got.ETag)
}

func TestLoadMissing(t *testing.T) {
	c := newTestCache(t)

	_, _, err := c.Load("https://example.com/absent")
	assert.ErrorIs(t, err, utils.ErrNotCached)
}

func TestStoreOverwrites(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Store("https://example.com/a", []byte("old"), Entry{ETag: `"1"`}))
	require.NoError(t, c.Store("https://example.com/a", []byte("new"), Entry{ETag: `"2"`}))

	body, entry, err := c.Load("https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), body)
	assert.Equal(t, `"2"`, entry.ETag)
}
