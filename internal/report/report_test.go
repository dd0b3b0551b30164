package report

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chartPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{0, 128, 255, 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func readParts(t *testing.T, path string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	parts := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		parts[f.Name] = b
	}
	return parts
}

func TestBuild(t *testing.T) {
	img := chartPNG(t, 1200, 600)
	path := filepath.Join(t.TempDir(), "out", "asx-HUB.docx")
	gen := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	err := Build(Input{
		Title:     "Weekly <chart> & notes",
		Ticker:    "hub",
		SourceURL: "https://au.finance.yahoo.com/quote/HUB.AX/",
		Generated: gen,
		Image:     img,
	}, path)
	require.NoError(t, err)

	parts := readParts(t, path)
	for _, name := range []string{"[Content_Types].xml", "_rels/.rels", "word/document.xml", "word/styles.xml", "word/_rels/document.xml.rels", "docProps/core.xml"} {
		assert.Contains(t, parts, name)
	}
	assert.Equal(t, img, parts["word/media/image1.png"])

	doc := string(parts["word/document.xml"])
	assert.Contains(t, doc, "HUB.AX: Weekly &lt;chart&gt; &amp; notes")
	assert.Contains(t, doc, `<w:pStyle w:val="Heading1"/>`)
	assert.Contains(t, doc, "Generated: 2026-03-04T05:06:07Z")
	assert.Contains(t, doc, "Source: https://au.finance.yahoo.com/quote/HUB.AX/")
	// 6.5in 宽，2:1 比例
	assert.Contains(t, doc, `<wp:extent cx="5943600" cy="2971800"/>`)
	assert.Contains(t, string(parts["word/_rels/document.xml.rels"]), `Target="media/image1.png"`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBuildRejectsBadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.docx")
	assert.Error(t, Build(Input{Title: "x", Ticker: "HUB"}, path))
	assert.Error(t, Build(Input{Title: "x", Ticker: "HUB", Image: []byte("nope")}, path))
	assert.NoFileExists(t, path)
}

func TestBuildWriteError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := Build(Input{Ticker: "HUB", Image: chartPNG(t, 10, 10)}, filepath.Join(blocker, "r.docx"))
	assert.Error(t, err)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "HUB.AX: Daily", Title("Daily", "hub"))
	assert.Equal(t, "Chart Report: HUB (today)", Title("Chart Report: HUB (today)", "HUB"))
	assert.Equal(t, "BHP.AX", Title("  ", "bhp"))
	assert.Equal(t, "Daily", Title("Daily", ""))
}

func TestParagraphLineBreaks(t *testing.T) {
	d := NewDocument()
	d.AddParagraph("one\ntwo")
	doc := string(d.documentXML())
	assert.Equal(t, 1, strings.Count(doc, "<w:br/>"))
	assert.Contains(t, doc, `<w:t xml:space="preserve">two</w:t>`)
}
