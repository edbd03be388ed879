// Package ocr converts PDF documents published on school sites (fee
// schedules, handbooks) into plain text.
package ocr

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
)

// Extractor extracts text content from PDF bytes.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// IsPDF reports whether data starts with the PDF magic header.
func IsPDF(data string) bool {
	return len(data) >= 5 && data[:5] == "%PDF-"
}

// withTempFile writes data to a temporary file, hands its path to fn and
// removes the file afterwards.
func withTempFile(data []byte, fn func(path string) (string, error)) (string, error) {
	f, err := os.CreateTemp("", "schoolintel-*.pdf")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create temp file")
	}
	defer os.Remove(f.Name()) //nolint:errcheck

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", eris.Wrap(err, "ocr: write temp file")
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrap(err, "ocr: close temp file")
	}
	return fn(f.Name())
}
