package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSession = `{
	"search_token": "deadbeefcafe",
	"detail_token": "pdp-token",
	"api_key": "key123",
	"client_version": "1.2.3",
	"operation": "StaysSearch",
	"currency": "EUR",
	"headers": {
		"User-Agent": ["Mozilla/5.0"],
		"Cookie": ["session=abc"]
	}
}`

func writeSession(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "session.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFileSourceLoadsAndApplyDefaults(t *testing.T) {
	t.Parallel()

	path := writeSession(t, t.TempDir(), sampleSession)
	src := NewFileSource(path, Defaults{
		Locale:         "en",
		Currency:       "MAD",
		Query:          "Morocco",
		ViewportWidth:  1400,
		ViewportHeight: 900,
	})

	sess, err := src.Session(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "deadbeefcafe", sess.SearchToken)
	assert.Equal(t, "pdp-token", sess.DetailToken)
	assert.Equal(t, "key123", sess.APIKey)
	assert.Equal(t, "Mozilla/5.0", sess.Headers.Get("User-Agent"))
	assert.Equal(t, 1400, sess.ViewportWidth)

	// Defaults apply only where the file is silent.
	assert.Equal(t, "en", sess.Locale)
	assert.Equal(t, "EUR", sess.Currency)
	assert.Equal(t, "Morocco", sess.Query)
	assert.NotEmpty(t, sess.ClientRequestID)
}

func TestFileSourceDefaultsOperation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// Omitted everywhere: the fixed request path's operation applies.
	path := writeSession(t, dir, `{"search_token": "deadbeefcafe"}`)
	sess, err := NewFileSource(path, Defaults{}).Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "StaysSearch", sess.Operation)

	// The file's own value always wins.
	sess, err = NewFileSource(writeSession(t, dir, sampleSession),
		Defaults{Operation: "OtherOp"}).Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "StaysSearch", sess.Operation)
}

func TestFileSourceFreshRequestIDPerCall(t *testing.T) {
	t.Parallel()

	path := writeSession(t, t.TempDir(), sampleSession)
	src := NewFileSource(path, Defaults{})

	first, err := src.Session(context.Background())
	require.NoError(t, err)
	second, err := src.Session(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ClientRequestID, second.ClientRequestID)
}

func TestFileSourceReloadsOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeSession(t, dir, sampleSession)
	src := NewFileSource(path, Defaults{})

	sess, err := src.Session(context.Background())
	require.NoError(t, err)
	require.Equal(t, "deadbeefcafe", sess.SearchToken)

	updated := `{"search_token": "feedfacef00d"}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	// Push the mtime forward for filesystems with coarse timestamps.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	sess, err = src.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "feedfacef00d", sess.SearchToken)
}

func TestFileSourceErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		src := NewFileSource(filepath.Join(dir, "absent.json"), Defaults{})
		_, err := src.Session(context.Background())
		require.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o600))
		src := NewFileSource(path, Defaults{})
		_, err := src.Session(context.Background())
		require.Error(t, err)
	})

	t.Run("missing search token", func(t *testing.T) {
		path := filepath.Join(dir, "tokenless.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"detail_token":"x"}`), 0o600))
		src := NewFileSource(path, Defaults{})
		_, err := src.Session(context.Background())
		require.Error(t, err)
	})
}
