package extraction

import (
	"context"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// PDFTextReader pulls the embedded text layer out of a PDF
type PDFTextReader struct{}

// NewPDFTextReader creates a reader backed by MuPDF
func NewPDFTextReader() *PDFTextReader {
	return &PDFTextReader{}
}

// ReadText concatenates the text of every page. A corrupt document is a
// permanent failure.
func (r *PDFTextReader) ReadText(ctx context.Context, path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", domain.Permanentf("failed to open PDF: %v", err)
	}
	defer doc.Close()

	var sb strings.Builder
	for page := 0; page < doc.NumPage(); page++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := doc.Text(page)
		if err != nil {
			return "", domain.Permanentf("failed to read PDF page %d: %v", page+1, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	return sb.String(), nil
}
