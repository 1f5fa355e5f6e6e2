package invoice

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image/jpeg"
	"io"
	"regexp"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	archiveNameLimit = 50

	// pointsPerPixel sizes PDF pages so a page rendered at 144 DPI prints
	// at its original size.
	pointsPerPixel = 72.0 / 144.0
)

var unsafeNameChars = regexp.MustCompile(`[/\\?%*:|"<>]`)

// ArchiveName builds a download file name from a record's reason.
func ArchiveName(reason, ext string) string {
	base := unsafeNameChars.ReplaceAllString(strings.TrimSpace(reason), "_")
	if r := []rune(base); len(r) > archiveNameLimit {
		base = string(r[:archiveNameLimit])
	}
	if base == "" {
		base = "invoice"
	}
	return base + ext
}

// WriteZip writes the pages as page_1.jpg, page_2.jpg and so on.
func WriteZip(w io.Writer, pages [][]byte) error {
	zw := zip.NewWriter(w)
	for i, page := range pages {
		f, err := zw.Create(fmt.Sprintf("page_%d.jpg", i+1))
		if err != nil {
			return fmt.Errorf("creating zip entry %d: %w", i+1, err)
		}
		if _, err := f.Write(page); err != nil {
			return fmt.Errorf("writing zip entry %d: %w", i+1, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing zip: %w", err)
	}
	return nil
}

// WritePDF writes the pages as a PDF with one JPEG per page, each page
// sized to its image.
func WritePDF(w io.Writer, pages [][]byte) error {
	if len(pages) == 0 {
		return ErrNoPages
	}
	pdf := gofpdf.NewCustom(&gofpdf.InitType{UnitStr: "pt", Size: gofpdf.SizeType{Wd: 100, Ht: 100}})
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)

	for i, page := range pages {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(page))
		if err != nil {
			return fmt.Errorf("reading page %d: %w", i+1, err)
		}
		wd := float64(cfg.Width) * pointsPerPixel
		ht := float64(cfg.Height) * pointsPerPixel

		name := fmt.Sprintf("page_%d", i+1)
		opts := gofpdf.ImageOptions{ImageType: "JPG"}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(page))
		pdf.AddPageFormat("P", gofpdf.SizeType{Wd: wd, Ht: ht})
		pdf.ImageOptions(name, 0, 0, wd, ht, false, opts, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("writing pdf: %w", err)
	}
	return nil
}
