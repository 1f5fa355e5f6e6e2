package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zombor/invoice-declare/internal/normalize"
)

// contentTypeFor infers a media type from a file extension.
func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return normalize.TypeJPEG
	case ".png":
		return normalize.TypePNG
	case ".webp":
		return normalize.TypeWebP
	case ".gif":
		return normalize.TypeGIF
	case ".pdf":
		return normalize.TypePDF
	case ".heic":
		return normalize.TypeHEIC
	case ".heif":
		return normalize.TypeHEIF
	default:
		return "application/octet-stream"
	}
}

func readFiles(paths []string) ([]normalize.File, error) {
	files := make([]normalize.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		files = append(files, normalize.File{
			Name:        filepath.Base(p),
			ContentType: contentTypeFor(p),
			Data:        data,
		})
	}
	return files, nil
}
