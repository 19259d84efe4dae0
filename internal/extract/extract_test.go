package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdown_FrontmatterAndBody(t *testing.T) {
	// Given: a markdown document with YAML frontmatter
	doc := "---\ntitle: Hello\ntags:\n  - api\n---\n\n# H\n\nBody.\n"

	res, err := ExtractBytes(".md", []byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "Hello", res.Frontmatter["title"])
	assert.Equal(t, []any{"api"}, res.Frontmatter["tags"])
	assert.Contains(t, res.Text, "# H")
	assert.Contains(t, res.Text, "Body.")
	assert.NotContains(t, res.Text, "title: Hello")
}

func TestMarkdown_NoFrontmatter(t *testing.T) {
	res, err := ExtractBytes(".md", []byte("# Title\n\nJust a body.\n"))
	require.NoError(t, err)

	assert.Nil(t, res.Frontmatter)
	assert.Contains(t, res.Text, "# Title")
}

func TestMarkdown_LoneFenceInsideBodyIsNotFrontmatter(t *testing.T) {
	doc := "Intro paragraph.\n\n---\n\nMore text.\n"

	res, err := ExtractBytes(".md", []byte(doc))
	require.NoError(t, err)

	assert.Nil(t, res.Frontmatter)
	assert.Equal(t, doc, res.Text)
}

func TestMarkdown_ScalarFrontmatterIsBody(t *testing.T) {
	// A YAML scalar between fences does not count as frontmatter.
	doc := "---\njust a string\n---\nBody.\n"

	res, err := ExtractBytes(".md", []byte(doc))
	require.NoError(t, err)

	assert.Nil(t, res.Frontmatter)
	assert.Equal(t, doc, res.Text)
}

func TestMarkdown_UnclosedFenceIsBody(t *testing.T) {
	doc := "---\ntitle: Dangling\n\nBody without a closing fence.\n"

	res, err := ExtractBytes(".md", []byte(doc))
	require.NoError(t, err)

	assert.Nil(t, res.Frontmatter)
	assert.Equal(t, doc, res.Text)
}

func TestBOM_StrippedBeforeFrontmatterDetection(t *testing.T) {
	doc := append([]byte{0xEF, 0xBB, 0xBF}, []byte("---\ntitle: T\n---\nBody.\n")...)

	res, err := ExtractBytes(".md", doc)
	require.NoError(t, err)

	assert.Equal(t, "T", res.Frontmatter["title"])
}

func TestJSON_TextFieldPriority(t *testing.T) {
	// "content" outranks "description".
	doc := `{"description": "second", "content": "first", "id": 7}`

	res, err := ExtractBytes(".json", []byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "first", res.Text)
	assert.Equal(t, float64(7), res.Data["id"])
}

func TestJSON_EmptyTextFieldSkipped(t *testing.T) {
	doc := `{"content": "  ", "summary": "fallback"}`

	res, err := ExtractBytes(".json", []byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "fallback", res.Text)
}

func TestJSON_NoTextFieldSerializesWholeValue(t *testing.T) {
	res, err := ExtractBytes(".json", []byte(`{"id": 1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, res.Text)
	assert.NotNil(t, res.Data)
}

func TestJSON_ArrayHasNoStructuredData(t *testing.T) {
	res, err := ExtractBytes(".json", []byte(`[1, 2, 3]`))
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, res.Text)
	assert.Nil(t, res.Data)
}

func TestJSON_InvalidFails(t *testing.T) {
	_, err := ExtractBytes(".json", []byte("{nope"))
	assert.Error(t, err)
}

func TestHTML_DropsScriptAndStyle(t *testing.T) {
	doc := `<html><head><style>body{color:red}</style></head>
<body><h1>Title</h1><script>alert(1)</script><p>Hello world.</p></body></html>`

	res, err := ExtractBytes(".html", []byte(doc))
	require.NoError(t, err)

	assert.Contains(t, res.Text, "Title")
	assert.Contains(t, res.Text, "Hello world.")
	assert.NotContains(t, res.Text, "alert")
	assert.NotContains(t, res.Text, "color:red")
}

func TestHTML_FragmentWithoutBodyStillExtracts(t *testing.T) {
	// html.Parse synthesizes a body for fragments; either way we get text.
	res, err := ExtractBytes(".html", []byte(`<p>fragment text</p>`))
	require.NoError(t, err)
	assert.Contains(t, res.Text, "fragment text")
}

func TestText_PassThrough(t *testing.T) {
	res, err := ExtractBytes(".txt", []byte("plain text\n"))
	require.NoError(t, err)
	assert.Equal(t, "plain text\n", res.Text)
}

func TestUnknownExtension_TreatedAsPlaintext(t *testing.T) {
	res, err := ExtractBytes(".xyz", []byte("anything"))
	require.NoError(t, err)
	assert.Equal(t, "anything", res.Text)
}

func TestExtract_ReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("---\nk: v\n---\nBody"), 0o644))

	res, err := Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "v", res.Frontmatter["k"])
	assert.Contains(t, res.Text, "Body")
}

func TestDOCX_ExtractsParagraphText(t *testing.T) {
	// Given: a minimal .docx archive built in-memory
	docXML := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second</w:t></w:r><w:r><w:t> paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(docXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "doc.docx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	// When: extracted
	res, err := Extract(context.Background(), path)
	require.NoError(t, err)

	// Then: paragraphs are separated and concatenated runs joined
	assert.Contains(t, res.Text, "First paragraph.")
	assert.Contains(t, res.Text, "Second paragraph.")
}

func TestDOCX_MissingDocumentXMLFails(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("unrelated.txt")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "bad.docx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, err = Extract(context.Background(), path)
	assert.Error(t, err)
}
