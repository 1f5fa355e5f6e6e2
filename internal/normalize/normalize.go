// Package normalize turns uploaded receipts (photos and multi-page PDFs) into
// an ordered list of size-bounded JPEG pages.
package normalize

import (
	"errors"
	"fmt"
	"mime"
	"strings"
)

const (
	// MaxWidth and MaxHeight bound every produced page.
	MaxWidth  = 1600
	MaxHeight = 2400

	// Quality is the JPEG quality used for every page (0.92 on a 0-1 scale).
	Quality = 92

	// pdfRenderDPI renders PDF pages at 2x their native 72 DPI page units.
	pdfRenderDPI = 144.0
)

const (
	TypePDF  = "application/pdf"
	TypeJPEG = "image/jpeg"
	TypePNG  = "image/png"
	TypeWebP = "image/webp"
	TypeGIF  = "image/gif"
	TypeHEIC = "image/heic"
	TypeHEIF = "image/heif"
)

var (
	// ErrUnsupportedType is returned for any declared media type outside AcceptedTypes.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrDecode is returned when an accepted file cannot be decoded.
	ErrDecode = errors.New("decoding file")
)

// AcceptedTypes lists the declared media types Normalize understands, in the
// order they are offered to file pickers.
var AcceptedTypes = []string{TypePDF, TypeJPEG, TypePNG, TypeWebP, TypeGIF, TypeHEIC, TypeHEIF}

// File is one input to the normalizer.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Page is a single normalized JPEG page.
type Page struct {
	Data   []byte
	Width  int
	Height int
}

// Accept returns the comma separated accepted types, suitable for an HTML
// accept attribute.
func Accept() string {
	return strings.Join(AcceptedTypes, ",")
}

// MediaType lowercases a declared content type and strips its parameters.
func MediaType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	return contentType
}

// IsAccepted reports whether the declared content type can be normalized.
func IsAccepted(contentType string) bool {
	mt := MediaType(contentType)
	for _, t := range AcceptedTypes {
		if t == mt {
			return true
		}
	}
	return false
}

// Normalize converts one file into its pages. Images produce exactly one
// page; PDFs produce one page per document page, in document order.
func Normalize(f File) ([]Page, error) {
	switch mt := MediaType(f.ContentType); mt {
	case TypePDF:
		pages, err := pdfToPages(f.Data)
		if err != nil {
			return nil, fmt.Errorf("converting %q: %w", f.Name, err)
		}
		return pages, nil
	case TypeJPEG, TypePNG, TypeWebP, TypeGIF, TypeHEIC, TypeHEIF:
		img, err := decodeImage(f.Data, mt)
		if err != nil {
			return nil, fmt.Errorf("converting %q: %w", f.Name, err)
		}
		page, err := encodePage(img)
		if err != nil {
			return nil, fmt.Errorf("converting %q: %w", f.Name, err)
		}
		return []Page{page}, nil
	default:
		return nil, fmt.Errorf("%w: %q (%s)", ErrUnsupportedType, mt, f.Name)
	}
}

// NormalizeAll converts files in order and concatenates their pages. The
// first failing file aborts the whole batch and no pages are returned.
func NormalizeAll(files []File) ([]Page, error) {
	pages := make([]Page, 0, len(files))
	for _, f := range files {
		p, err := Normalize(f)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p...)
	}
	return pages, nil
}

// Blobs returns just the JPEG bytes of pages.
func Blobs(pages []Page) [][]byte {
	blobs := make([][]byte, len(pages))
	for i, p := range pages {
		blobs[i] = p.Data
	}
	return blobs
}
