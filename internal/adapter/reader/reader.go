package reader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/gfwx/quicksilver/internal/port"
)

// FileReader extracts plain text from uploaded sources. Supported formats:
// .pdf (text-based PDFs only), .txt and .csv (read verbatim).
type FileReader struct{}

// NewFileReader creates a file reader.
func NewFileReader() *FileReader {
	return &FileReader{}
}

// Extract returns the text content of the source. Unsupported extensions
// fail with port.ErrUnsupportedFormat; an extraction that yields no text at
// all is an error, not an empty success.
func (r *FileReader) Extract(src port.Source) (string, error) {
	var text string
	var err error

	switch strings.ToLower(filepath.Ext(src.Name)) {
	case ".pdf":
		text, err = extractPDF(src.Data)
	case ".txt", ".csv":
		text, err = extractPlain(src.Data)
	default:
		return "", fmt.Errorf("%w: %s", port.ErrUnsupportedFormat, src.Name)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", src.Name, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("extract %s: no text content", src.Name)
	}
	return text, nil
}

func extractPlain(data io.Reader) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// extractPDF spools the stream to a temp file because the pdf library needs
// a seekable path.
func extractPDF(data io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "quicksilver-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, data); err != nil {
		return "", fmt.Errorf("spool pdf: %w", err)
	}

	f, rdr, err := pdf.Open(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := rdr.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf buffer: %w", err)
	}
	return buf.String(), nil
}
