package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBumperSourceRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bumper.ts")
	require.NoError(t, os.WriteFile(path, []byte("fake-ts-bytes"), 0644))

	source := NewBumperSource(path)
	data, err := source.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-ts-bytes"), data)
}

func TestBumperSourceMissingPath(t *testing.T) {
	source := NewBumperSource("")
	_, err := source.Read()
	assert.Error(t, err)
}

func TestBumperSourceMissingFile(t *testing.T) {
	source := NewBumperSource("/nonexistent/bumper.ts")
	_, err := source.Read()
	assert.Error(t, err)
}
