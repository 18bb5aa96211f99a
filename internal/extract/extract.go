package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"
)

const (
	MimePDF      = "application/pdf"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeText     = "text/plain"
	MimeMarkdown = "text/markdown"
	MimeCSV      = "text/csv"

	mimeZip         = "application/zip"
	mimeOctetStream = "application/octet-stream"
)

// DefaultMaxExpandedBytes bounds decompressed document parts when the
// Extractor does not set its own limit.
const DefaultMaxExpandedBytes = 64 << 20

var (
	// ErrUnsupportedFormat is returned when the payload cannot be turned into text.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrExpandedTooLarge reports a document whose decompressed content
	// exceeds the extractor limit. It is always wrapped in ErrUnsupportedFormat.
	ErrExpandedTooLarge = errors.New("expanded content too large")
)

var extensionTypes = map[string]string{
	".pdf":      MimePDF,
	".docx":     MimeDOCX,
	".txt":      MimeText,
	".text":     MimeText,
	".md":       MimeMarkdown,
	".markdown": MimeMarkdown,
	".csv":      MimeCSV,
}

// Extractor converts raw upload bytes into normalized searchable text.
// Libraries used: github.com/ledongthuc/pdf (PDF) and golang.org/x/text (NFC).
//
// Cancellation is checked while decompressed content is read and between
// stages. PDF parsing itself runs to completion once started.
type Extractor struct {
	// MaxChars caps the returned text; zero means no cap.
	MaxChars int
	// MaxExpandedBytes caps decompressed DOCX XML and PDF text; zero means
	// DefaultMaxExpandedBytes.
	MaxExpandedBytes int64
}

// New returns an Extractor with no output cap.
func New() *Extractor {
	return &Extractor{}
}

// Extract resolves the content type and pulls normalized text out of data.
// Every parse failure is reported as ErrUnsupportedFormat.
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrUnsupportedFormat)
	}

	resolved := ResolveMimeType(mimeType, fileName, data)
	var (
		raw string
		err error
	)
	limit := e.maxExpanded()
	switch resolved {
	case MimePDF:
		raw, err = extractPDF(ctx, data, limit)
	case MimeDOCX:
		raw, err = extractDOCX(ctx, data, limit)
	case MimeText, MimeMarkdown, MimeCSV:
		raw, err = extractPlain(data)
	default:
		return "", fmt.Errorf("%w: mime type %s", ErrUnsupportedFormat, resolved)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %s: %w", ErrUnsupportedFormat, resolved, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text := Normalize(raw)
	if e.MaxChars > 0 {
		text = truncateRunes(text, e.MaxChars)
	}
	return text, nil
}

func (e *Extractor) maxExpanded() int64 {
	if e.MaxExpandedBytes > 0 {
		return e.MaxExpandedBytes
	}
	return DefaultMaxExpandedBytes
}

// ResolveMimeType picks the effective content type for an upload. A specific
// declared type wins; generic ones fall back to the file extension and then
// to content sniffing. Zip containers holding a Word document map to DOCX.
func ResolveMimeType(declared, fileName string, data []byte) string {
	clean := cleanMime(declared)
	switch clean {
	case "", mimeOctetStream:
	case mimeZip:
		if mapOOXMLFromZip(data) == MimeDOCX || strings.EqualFold(filepath.Ext(fileName), ".docx") {
			return MimeDOCX
		}
		return clean
	default:
		return clean
	}

	if byExt, ok := extensionTypes[strings.ToLower(filepath.Ext(fileName))]; ok {
		return byExt
	}

	sniffed := cleanMime(http.DetectContentType(data))
	if sniffed == mimeZip && mapOOXMLFromZip(data) == MimeDOCX {
		return MimeDOCX
	}
	return sniffed
}

// Normalize applies NFC, drops control characters and collapses whitespace runs
// to single spaces.
func Normalize(raw string) string {
	composed := norm.NFC.String(raw)
	var buf strings.Builder
	buf.Grow(len(composed))
	pendingSpace := false
	for _, r := range composed {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = buf.Len() > 0
		case unicode.IsControl(r), r == utf8.RuneError, r == '\ufeff':
		default:
			if pendingSpace {
				buf.WriteByte(' ')
				pendingSpace = false
			}
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

func cleanMime(mimeType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
}

func extractPlain(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid utf-8")
	}
	return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), nil
}

func extractPDF(ctx context.Context, data []byte, limit int64) (text string, err error) {
	// The pdf package panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, newGuardedReader(ctx, plain, limit)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func extractDOCX(ctx context.Context, data []byte, limit int64) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", errors.New("document.xml file not found")
	}
	// Header sizes can lie; the guarded reader enforces the limit below.
	if docFile.UncompressedSize64 > uint64(limit) {
		return "", ErrExpandedTooLarge
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	return stripDocxXML(newGuardedReader(ctx, rc, limit))
}

func stripDocxXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var buf strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.Write(t)
		case xml.StartElement:
			if t.Name.Local == "tab" {
				buf.WriteByte(' ')
			}
		case xml.EndElement:
			if t.Name.Local == "p" || t.Name.Local == "br" {
				buf.WriteByte('\n')
			}
		}
	}
	return buf.String(), nil
}

// guardedReader fails once more than remaining bytes are read or ctx is done.
type guardedReader struct {
	ctx       context.Context
	r         io.Reader
	remaining int64
}

func newGuardedReader(ctx context.Context, r io.Reader, limit int64) *guardedReader {
	return &guardedReader{ctx: ctx, r: r, remaining: limit}
}

func (g *guardedReader) Read(p []byte) (int, error) {
	if err := g.ctx.Err(); err != nil {
		return 0, err
	}
	if g.remaining <= 0 {
		var one [1]byte
		n, err := g.r.Read(one[:])
		if n > 0 {
			return 0, ErrExpandedTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > g.remaining {
		p = p[:g.remaining]
	}
	n, err := g.r.Read(p)
	g.remaining -= int64(n)
	return n, err
}

func mapOOXMLFromZip(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	for _, f := range zr.File {
		switch strings.ReplaceAll(f.Name, "\\", "/") {
		case "word/document.xml":
			return MimeDOCX
		case "xl/workbook.xml":
			return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		case "ppt/presentation.xml":
			return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
		}
	}
	return ""
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
