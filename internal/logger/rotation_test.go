package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "subdir", "honeypot.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = os.Stat(logFile)
	assert.NoError(t, err)
}

func TestRotatingWriter_Write(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "honeypot.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)

	data := []byte("turn processed\n")
	n, err := rw.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	require.NoError(t, rw.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "turn processed\n", string(content))

	_, err = rw.Write(data)
	assert.ErrorIs(t, err, os.ErrClosed)
}

func rotatedFiles(t *testing.T, logFile string) []string {
	t.Helper()
	matches, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	return matches
}

func TestRotatingWriter_Rotation(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "honeypot.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	rw.maxSize = 100

	_, err = rw.Write([]byte(strings.Repeat("a", 80)))
	require.NoError(t, err)
	assert.Empty(t, rotatedFiles(t, logFile))

	_, err = rw.Write([]byte(strings.Repeat("b", 80)))
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	rotated := rotatedFiles(t, logFile)
	require.Len(t, rotated, 1)

	old, err := os.ReadFile(rotated[0])
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 80), string(old))

	current, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("b", 80), string(current))
}

func TestRotatingWriter_Compression(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "honeypot.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, true)
	require.NoError(t, err)
	rw.maxSize = 10

	_, err = rw.Write([]byte("first entry"))
	require.NoError(t, err)
	_, err = rw.Write([]byte("second entry"))
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	rotated := rotatedFiles(t, logFile)
	require.Len(t, rotated, 1)
	assert.True(t, strings.HasSuffix(rotated[0], ".gz"))
}

func TestRotatingWriter_RemovesExpired(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "honeypot.log")

	stale := logFile + ".20200101-000000.000"
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))
	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(stale, old, old))

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}
