package logwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func collectLines(w *Watcher) []string {
	var lines []string
	for {
		select {
		case line := <-w.lines:
			lines = append(lines, string(line))
		default:
			return lines
		}
	}
}

func TestDrain_EmitsCompleteLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(path, []byte("first\nsecond\npartial"), 0o600))

	w := New(dir, 16)
	w.drain(context.Background(), path)

	require.Equal(t, []string{"first", "second"}, collectLines(w))

	// The trailing fragment is held back until its newline arrives.
	require.NoError(t, os.WriteFile(path, []byte("first\nsecond\npartial line done\n"), 0o600))
	w.drain(context.Background(), path)
	require.Equal(t, []string{"partial line done"}, collectLines(w))
}

func TestDrain_OnlyReadsAppendedBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o600))

	w := New(dir, 16)
	require.NoError(t, w.seedOffsets())

	// Content present at startup is skipped.
	w.drain(context.Background(), path)
	require.Empty(t, collectLines(w))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("new\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w.drain(context.Background(), path)
	require.Equal(t, []string{"new"}, collectLines(w))
}

func TestDrain_TruncationRestartsFromTop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(path, []byte("a long line before rotation\n"), 0o600))

	w := New(dir, 16)
	w.drain(context.Background(), path)
	require.Equal(t, []string{"a long line before rotation"}, collectLines(w))

	// Rotation truncated the file and new content is shorter than the old
	// offset.
	require.NoError(t, os.WriteFile(path, []byte("fresh\n"), 0o600))
	w.drain(context.Background(), path)
	require.Equal(t, []string{"fresh"}, collectLines(w))
}

func TestDrain_SkipsBlankAndCarriageReturnLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(path, []byte("one\r\n\ntwo\n"), 0o600))

	w := New(dir, 16)
	w.drain(context.Background(), path)
	require.Equal(t, []string{"one", "two"}, collectLines(w))
}

func TestSeedOffsets_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "access.log"), []byte("x\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("y\n"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o700))

	w := New(dir, 16)
	require.NoError(t, w.seedOffsets())

	require.Len(t, w.offsets, 1)
	require.Contains(t, w.offsets, filepath.Join(dir, "access.log"))
}

func TestIsLogFile(t *testing.T) {
	require.True(t, isLogFile("/logs/access.log"))
	require.True(t, isLogFile("/logs/access.json"))
	require.False(t, isLogFile("/logs/access.txt"))
	require.False(t, isLogFile("/logs/.keep"))
}
