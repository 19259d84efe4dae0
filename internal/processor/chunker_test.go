package processor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRecursive_ShortTextIsSingleChunk(t *testing.T) {
	chunks := splitRecursive("short text", 100, 20)
	assert.Equal(t, []string{"short text"}, chunks)
}

func TestSplitRecursive_RespectsChunkSize(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "sentence number %d in the document.\n", i)
	}

	chunks := splitRecursive(sb.String(), 200, 40)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c), 200, "chunk %d", i)
		assert.NotEmpty(t, strings.TrimSpace(c), "chunk %d", i)
	}
}

func TestSplitRecursive_OverlapCarriesContext(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta. ", 30)

	chunks := splitRecursive(text, 100, 30)
	require.Greater(t, len(chunks), 1)

	// The head of each following chunk repeats the tail of the prior.
	tail := chunks[0][len(chunks[0])-10:]
	assert.Contains(t, chunks[1], strings.TrimSpace(tail))
}

func TestSplitRecursive_NoSeparatorHardSplits(t *testing.T) {
	text := strings.Repeat("x", 250)

	chunks := splitRecursive(text, 100, 20)

	require.GreaterOrEqual(t, len(chunks), 3)
	assert.Equal(t, 100, len(chunks[0]))
	// 80-byte step from the 20-byte overlap
	assert.Equal(t, text[80:180], chunks[1])
}

func TestSplitMarkdown_KeepsHeadingWithSection(t *testing.T) {
	doc := "# Title\n\nIntro paragraph.\n\n## Details\n\nDetail text.\n"

	chunks := splitMarkdown(doc, 1000, 200)

	// Small document packs into one chunk with headings intact.
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "# Title")
	assert.Contains(t, chunks[0], "## Details")
}

func TestSplitMarkdown_SectionsSplitAcrossChunks(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&sb, "## Section %d\n\n%s\n\n", i, strings.Repeat("text ", 30))
	}

	chunks := splitMarkdown(sb.String(), 300, 50)

	require.Greater(t, len(chunks), 1)
	// Every chunk starts at a heading boundary.
	for i, c := range chunks {
		assert.True(t, strings.HasPrefix(c, "## Section"), "chunk %d: %q", i, c[:20])
	}
}

func TestSplitMarkdown_OversizeSectionFallsBack(t *testing.T) {
	doc := "# Big\n\n" + strings.Repeat("word ", 200)

	chunks := splitMarkdown(doc, 200, 40)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c), 200, "chunk %d", i)
	}
}

func TestSplitText_DispatchesByExtension(t *testing.T) {
	doc := "# H\n\nBody."

	md := splitText(".md", doc, 1000, 200)
	txt := splitText(".txt", doc, 1000, 200)

	require.Len(t, md, 1)
	require.Len(t, txt, 1)
	assert.Contains(t, md[0], "# H")
}
