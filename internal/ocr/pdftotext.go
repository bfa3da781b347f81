package ocr

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

// PdfToText shells out to poppler's pdftotext. It is the zero-setup local
// provider; machine-readable PDFs extract cleanly, image-only scans come
// back empty and need the Mistral provider instead.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. An empty binPath resolves
// "pdftotext" from PATH.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText runs pdftotext -layout on the PDF and returns its stdout.
// -layout preserves column positions, which the label scan in the pattern
// bank depends on.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	out, err := exec.CommandContext(ctx, p.binPath, "-layout", pdfPath, "-").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", eris.Wrapf(err, "ocr: pdftotext failed for %s: %s",
				pdfPath, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s", pdfPath)
	}
	return string(out), nil
}
