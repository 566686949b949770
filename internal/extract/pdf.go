package extract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// PDFTextExtractor extracts plain text from well-formed PDFs.
type PDFTextExtractor struct{}

func NewPDFTextExtractor() *PDFTextExtractor {
	return &PDFTextExtractor{}
}

func (e *PDFTextExtractor) Name() string {
	return "pdftext"
}

func (e *PDFTextExtractor) ExtractText(data []byte) (text string, err error) {
	// The pdf package panics on some malformed inputs; surface those as
	// ordinary extraction errors so the worker can classify them.
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf extraction panic: %v", recovered)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	content, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(content), nil
}
