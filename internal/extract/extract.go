// Package extract converts source documents into plain text.
//
// Supported document formats are pdf, docx, epub and txt. Crawled and
// scraped pages go through HTMLToText instead. Extractors only read their
// input.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Format is a document type tag.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatEPUB Format = "epub"
	FormatTXT  Format = "txt"
)

// Formats lists the supported document formats.
var Formats = []Format{FormatPDF, FormatDOCX, FormatEPUB, FormatTXT}

// UnsupportedFormatError reports a document type outside Formats.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file type: %s", e.Ext)
}

// ExtractionError is a format-specific parse failure.
type ExtractionError struct {
	Format Format
	Path   string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s from %s: %v", e.Format, filepath.Base(e.Path), e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ErrInvalidUTF8 is returned for text files that are not UTF-8.
var ErrInvalidUTF8 = errors.New("file is not valid UTF-8")

// FormatOf maps a file name to its format tag by extension, case-insensitively.
func FormatOf(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	for _, f := range Formats {
		if ext == "."+string(f) {
			return f, nil
		}
	}
	return "", &UnsupportedFormatError{Ext: ext}
}

// File extracts text from path using the extension of name. name may
// differ from path, for uploads saved under a temporary name.
func File(path, name string) (string, error) {
	format, err := FormatOf(name)
	if err != nil {
		return "", err
	}
	return Extract(path, format)
}

// Extract dispatches on format.
func Extract(path string, format Format) (string, error) {
	var (
		text string
		err  error
	)
	switch format {
	case FormatPDF:
		text, err = extractPDF(path)
	case FormatDOCX:
		text, err = extractDOCX(path)
	case FormatEPUB:
		text, err = extractEPUB(path)
	case FormatTXT:
		text, err = extractTXT(path)
	default:
		return "", &UnsupportedFormatError{Ext: "." + string(format)}
	}
	if err != nil {
		return "", &ExtractionError{Format: format, Path: path, Err: err}
	}
	return text, nil
}

func extractTXT(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
