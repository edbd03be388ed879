package ocr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pdftotext")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestPdfToText_BinPath(t *testing.T) {
	assert.Equal(t, "pdftotext", NewPdfToText("").binPath)
	assert.Equal(t, "/opt/pdftotext", NewPdfToText("/opt/pdftotext").binPath)
}

func TestPdfToText_ExtractText(t *testing.T) {
	// The fake binary prints the input file's contents, which proves the
	// temp file path is handed over and still exists during the call.
	bin := writeScript(t, `cat "$4"`)

	out, err := NewPdfToText(bin).ExtractText(context.Background(), []byte("%PDF-1.4 Tuition Grade 7 PHP 95,000"))
	require.NoError(t, err)
	assert.Contains(t, out, "Tuition Grade 7 PHP 95,000")
}

func TestPdfToText_Failure(t *testing.T) {
	bin := writeScript(t, `echo "Syntax Error: broken xref" >&2; exit 1`)

	_, err := NewPdfToText(bin).ExtractText(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken xref")
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("%PDF-1.7\n..."))
	assert.False(t, IsPDF("<html>"))
	assert.False(t, IsPDF("%PD"))
}
