package sha256

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloWorld = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, helloWorld, got)

	streamed, err := h.HashReader(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, got, streamed)
}

func TestHasherHashTextIgnoresWhitespace(t *testing.T) {
	t.Parallel()

	h := New()
	assert.Equal(t, helloWorld, h.HashText("  hello \n\t world "))
	assert.NotEqual(t, h.HashText("hello world"), h.HashText("hello  worlds"))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestHasherHashReaderError(t *testing.T) {
	t.Parallel()

	_, err := New().HashReader(failingReader{})
	require.Error(t, err)
}
