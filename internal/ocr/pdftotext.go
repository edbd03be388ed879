package ocr

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text using the poppler pdftotext CLI.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty,
// "pdftotext" is resolved from PATH.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText runs pdftotext -layout on the PDF and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	return withTempFile(pdf, func(path string) (string, error) {
		cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-enc", "UTF-8", path, "-")

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", eris.Wrapf(err, "ocr: pdftotext failed: %s", stderr.String())
		}
		return stdout.String(), nil
	})
}
