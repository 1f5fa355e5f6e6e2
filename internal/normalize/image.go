package normalize

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"math"

	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// decodeImage decodes raster input. HEIC is sniffed as well as declared since
// phones frequently mislabel it.
func decodeImage(data []byte, mediaType string) (image.Image, error) {
	if mediaType == TypeHEIC || mediaType == TypeHEIF || isHEICFormat(data) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: HEIC/HEIF image: %v", ErrDecode, err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s image: %v", ErrDecode, mediaType, err)
	}
	return img, nil
}

// isHEICFormat checks for an ftyp box carrying a HEIC/HEIF brand.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// fit returns the dimensions of a w x h surface scaled uniformly so that it
// fits within MaxWidth x MaxHeight. Surfaces already within bounds are
// returned unchanged.
func fit(w, h int) (int, int) {
	if w <= MaxWidth && h <= MaxHeight {
		return w, h
	}
	scale := math.Min(float64(MaxWidth)/float64(w), float64(MaxHeight)/float64(h))
	fw := int(math.Round(float64(w) * scale))
	fh := int(math.Round(float64(h) * scale))
	return max(fw, 1), max(fh, 1)
}

// encodePage downscales img if needed and encodes it as JPEG. Transparent
// areas are flattened onto white.
func encodePage(img image.Image) (Page, error) {
	src := img.Bounds()
	if src.Empty() {
		return Page{}, fmt.Errorf("%w: empty image", ErrDecode)
	}
	w, h := fit(src.Dx(), src.Dy())

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == src.Dx() && h == src.Dy() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: Quality}); err != nil {
		return Page{}, fmt.Errorf("encoding JPEG: %w", err)
	}
	return Page{Data: buf.Bytes(), Width: w, Height: h}, nil
}
