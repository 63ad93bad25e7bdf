// Package extract converts uploaded document bytes into plain text.
//
// DESIGN: Pure bytes × extension → text | error. Extraction never produces a
// partial result: any decode or parse error fails the whole file, and callers
// treat failure as "no text available" rather than fatal. Size truncation is
// the caller's concern.
package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	docx "github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for extensions outside the allowed set.
var ErrUnsupported = errors.New("unsupported file type")

// allowedExtensions is the supported upload format set.
var allowedExtensions = map[string]bool{
	"txt": true, "pdf": true, "doc": true, "docx": true,
	"md": true, "csv": true, "json": true, "xml": true,
}

// Allowed reports whether the (lowercased, dot-free) extension is supported.
func Allowed(ext string) bool {
	return allowedExtensions[strings.ToLower(ext)]
}

// Text extracts plain text from data according to the declared extension.
func Text(data []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case "txt", "md", "xml":
		return string(data), nil
	case "csv":
		return csvText(data)
	case "json":
		return jsonText(data)
	case "pdf":
		return pdfText(data)
	case "doc", "docx":
		return docxText(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

// csvText joins each row's fields with ", " and rows with newlines.
func csvText(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(strings.Join(row, ", "))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// jsonText re-serializes the document with stable 2-space indentation. The
// round-trip doubles as a validity check: malformed input fails outright.
func jsonText(data []byte) (string, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("reserialize json: %w", err)
	}
	return string(out), nil
}

// pdfText concatenates per-page extracted text, one trailing newline per page.
func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// docxText concatenates per-paragraph text, one trailing newline per
// paragraph. Legacy binary .doc files are not OOXML archives and fail here,
// which surfaces as a normal extraction failure.
func docxText(data []byte) (string, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}
	var b strings.Builder
	for _, item := range doc.Document.Body.Items {
		if p, ok := item.(*docx.Paragraph); ok {
			b.WriteString(p.String())
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}
