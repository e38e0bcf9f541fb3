package extract

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func writeZip(t *testing.T, name string, entries [][2]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(e[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantExt string
	}{
		{name: "report.pdf", want: FormatPDF},
		{name: "Notes.DOCX", want: FormatDOCX},
		{name: "book.epub", want: FormatEPUB},
		{name: "a.b.txt", want: FormatTXT},
		{name: "letter.rtf", wantExt: ".rtf"},
		{name: "noext", wantExt: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatOf(tt.name)
			if tt.want == "" {
				var unsupported *UnsupportedFormatError
				require.ErrorAs(t, err, &unsupported)
				assert.Equal(t, tt.wantExt, unsupported.Ext)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFile_TXT(t *testing.T) {
	p := writeFile(t, "upload-1", []byte("first line\nsecond line"))

	text, err := File(p, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line", text)
}

func TestFile_TXTInvalidUTF8(t *testing.T) {
	p := writeFile(t, "bad.txt", []byte{0xff, 0xfe, 'a'})

	_, err := File(p, "bad.txt")
	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, FormatTXT, extractionErr.Format)
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestFile_Unsupported(t *testing.T) {
	p := writeFile(t, "doc.rtf", []byte(`{\rtf1 hello}`))

	_, err := File(p, "doc.rtf")
	var unsupported *UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "unsupported file type: .rtf", err.Error())
}

func TestFile_CorruptPDF(t *testing.T) {
	p := writeFile(t, "broken.pdf", []byte("this is not a pdf"))

	_, err := File(p, "broken.pdf")
	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, FormatPDF, extractionErr.Format)
}

func TestFile_EPUB(t *testing.T) {
	p := writeZip(t, "book.epub", [][2]string{
		{"mimetype", "application/epub+zip"},
		{"META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`},
		{"OEBPS/content.opf", `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="text/ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
  </manifest>
  <spine><itemref idref="ch2"/><itemref idref="ch1"/></spine>
</package>`},
		{"OEBPS/ch1.xhtml", `<html><body><h1>Chapter One</h1><p>It begins.</p></body></html>`},
		{"OEBPS/text/ch2.xhtml", `<html><head><style>p{}</style></head><body><p>Preface text.</p></body></html>`},
		{"OEBPS/style.css", `p { color: red }`},
	})

	text, err := File(p, "book.epub")
	require.NoError(t, err)
	assert.Equal(t, "Preface text.\nChapter One\nIt begins.\n", text)
}

func TestFile_EPUBMissingContainer(t *testing.T) {
	p := writeZip(t, "book.epub", [][2]string{{"mimetype", "application/epub+zip"}})

	_, err := File(p, "book.epub")
	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Contains(t, err.Error(), "META-INF/container.xml")
}

func TestFile_DOCX(t *testing.T) {
	p := writeZip(t, "memo.docx", [][2]string{
		{"[Content_Types].xml", `<?xml version="1.0" encoding="UTF-8"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`},
		{"word/document.xml", `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Quarterly memo</w:t></w:r></w:p>
    <w:p><w:r><w:t>Budget approved.</w:t></w:r></w:p>
  </w:body>
</w:document>`},
	})

	text, err := File(p, "memo.docx")
	require.NoError(t, err)
	assert.Contains(t, text, "Quarterly memo")
	assert.Contains(t, text, "Budget approved.")
}

func TestHTMLToText(t *testing.T) {
	page := `<!doctype html>
<html>
<head><title>Ignored title</title><script>var x = "hidden";</script></head>
<body>
  <nav><a href="/a">Home</a></nav>
  <h1>Welcome   to
     the site</h1>
  <p>First <b>bold</b> paragraph.</p>
  <style>.x{}</style>
  <ul><li>one</li><li>two</li></ul>
  <noscript>enable js</noscript>
</body>
</html>`

	text, err := HTMLStringToText(page)
	require.NoError(t, err)
	assert.Equal(t, "Home\nWelcome to the site\nFirst bold paragraph.\none\ntwo", text)
	assert.NotContains(t, text, "Ignored title")
	assert.NotContains(t, text, "hidden")
	assert.NotContains(t, text, "enable js")
}

func TestHTMLToText_Empty(t *testing.T) {
	text, err := HTMLStringToText("")
	require.NoError(t, err)
	assert.Empty(t, text)
}
