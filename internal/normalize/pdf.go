package normalize

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// document is the subset of a rasterizable PDF the normalizer needs.
type document interface {
	NumPage() int
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

// openPDF is replaced in tests.
var openPDF = func(data []byte) (document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// pdfToPages renders every page of a PDF in order. The document is always
// closed, including when a page fails to render.
func pdfToPages(data []byte) ([]Page, error) {
	doc, err := openPDF(data)
	if err != nil {
		return nil, fmt.Errorf("%w: opening PDF: %v", ErrDecode, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	pages := make([]Page, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.ImageDPI(i, pdfRenderDPI)
		if err != nil {
			return nil, fmt.Errorf("%w: rendering PDF page %d: %v", ErrDecode, i+1, err)
		}
		page, err := encodePage(img)
		if err != nil {
			return nil, fmt.Errorf("PDF page %d: %w", i+1, err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}
