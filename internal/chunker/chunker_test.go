package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newChunker(t *testing.T, opts Options) *Chunker {
	t.Helper()
	c, err := New(opts, "text-embedding-3-small")
	require.NoError(t, err)
	return c
}

func TestChunk_EmptyInput(t *testing.T) {
	c := newChunker(t, Options{Target: 100, Min: 20, Max: 150, Overlap: 20})
	require.Empty(t, c.Chunk("   \n\t  "))
}

func TestChunk_NoHeadingsSingleSection(t *testing.T) {
	c := newChunker(t, Options{Target: 100, Min: 20, Max: 150, Overlap: 20})
	chunks := c.Chunk("just some plain text with no headings at all.")
	require.Len(t, chunks, 1)
	require.Equal(t, "", chunks[0].HeadingPath)
}

func TestChunk_HeadingPathCorrectness(t *testing.T) {
	c := newChunker(t, Options{Target: 400, Min: 20, Max: 600, Overlap: 60})
	text := "# A\n## B\ntext one here.\n## C\ntext two here."
	chunks := c.Chunk(text)

	var pathOfFirst, pathOfSecond string
	for _, ch := range chunks {
		if strings.Contains(ch.Text, "text one") {
			pathOfFirst = ch.HeadingPath
		}
		if strings.Contains(ch.Text, "text two") {
			pathOfSecond = ch.HeadingPath
		}
	}
	require.Equal(t, "A > B", pathOfFirst)
	require.Equal(t, "A > C", pathOfSecond)
}

func TestChunk_LargeHeadinglessDocumentProducesManyBoundedChunks(t *testing.T) {
	c := newChunker(t, Options{Target: 100, Min: 20, Max: 150, Overlap: 20})
	var b strings.Builder
	for i := 0; i < 1000; i++ {
		b.WriteString("word ")
	}
	chunks := c.Chunk(b.String())
	require.GreaterOrEqual(t, len(chunks), 10)
	for i, ch := range chunks {
		require.LessOrEqual(t, ch.TokenCount, 150+5)
		require.Equal(t, i, ch.ChunkIndex)
	}
}

func TestChunk_RunningIndexAcrossSections(t *testing.T) {
	c := newChunker(t, Options{Target: 400, Min: 20, Max: 600, Overlap: 60})
	text := "# A\nfirst section text.\n# D\nsecond section text."
	chunks := c.Chunk(text)
	for i, ch := range chunks {
		require.Equal(t, i, ch.ChunkIndex)
	}
}
