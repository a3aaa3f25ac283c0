package deploy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.sh")
	b := filepath.Join(dir, "b.sh")
	require.NoError(t, os.WriteFile(a, []byte("echo one\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("echo two\n"), 0o644))

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fa2, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(fa, "blake3:"))
	assert.Len(t, fa, len("blake3:")+64)
	assert.Equal(t, fa, fa2)
	assert.NotEqual(t, fa, fb)
}

func TestFingerprint_Missing(t *testing.T) {
	_, err := Fingerprint(filepath.Join(t.TempDir(), "nope.sh"))
	assert.Error(t, err)
}
