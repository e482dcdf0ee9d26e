package pdfinfo

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

var ErrNotPDF = errors.New("payload is not a PDF document")

var header = []byte("%PDF-")

// IsPDF reports whether data starts with the PDF file header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, header)
}

// PageCount parses the document and returns its number of pages.
// The pdf reader panics on some malformed inputs; those are returned as errors.
func PageCount(data []byte) (n int, err error) {
	if !IsPDF(data) {
		return 0, ErrNotPDF
	}
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("failed to read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to read pdf: %w", err)
	}
	return reader.NumPage(), nil
}
