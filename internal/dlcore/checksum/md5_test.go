package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileMD5(t *testing.T) {
	path := writeTemp(t, "hello world")
	sum, err := FileMD5(path)
	require.NoError(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", sum)
}

func TestFileMD5_MissingFile(t *testing.T) {
	_, err := FileMD5(filepath.Join(t.TempDir(), "nope.bin"))
	assert.Error(t, err)
}

func TestVerify_CaseInsensitive(t *testing.T) {
	path := writeTemp(t, "hello world")
	assert.True(t, Verify(path, "5EB63BBBE01EEED093CB22BB8F5ACDC3"))
	assert.True(t, Verify(path, "5eb63bbbe01eeed093cb22bb8f5acdc3"))
}

func TestVerify_Mismatch(t *testing.T) {
	path := writeTemp(t, "hello world")
	assert.False(t, Verify(path, "deadbeef"))
}

func TestVerify_EmptyExpectedAlwaysPasses(t *testing.T) {
	path := writeTemp(t, "hello world")
	assert.True(t, Verify(path, ""))
}

func TestVerify_UnreadableFileReturnsFalse(t *testing.T) {
	assert.False(t, Verify(filepath.Join(t.TempDir(), "missing"), "anything"))
}
