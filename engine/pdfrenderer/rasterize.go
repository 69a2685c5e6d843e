package pdfrenderer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
)

// Format is an output image encoding
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ParseFormat accepts png, jpeg or jpg
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("unsupported image format %q", s)
	}
}

// Extension is the file extension without the dot
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return "png"
}

// RasterOptions controls page rendering and encoding
type RasterOptions struct {
	DPI     int
	Format  Format
	Quality int // 1-100
}

// DefaultRasterOptions renders at 150 DPI to PNG, quality 95
func DefaultRasterOptions() RasterOptions {
	return RasterOptions{DPI: 150, Format: FormatPNG, Quality: 95}
}

func (o RasterOptions) normalized() RasterOptions {
	def := DefaultRasterOptions()
	if o.DPI <= 0 {
		o.DPI = def.DPI
	}
	if o.Format == "" {
		o.Format = def.Format
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = def.Quality
	}
	return o
}

// RasterizePage renders one zero based page of a PDF to encoded image bytes
func RasterizePage(ctx context.Context, r Renderer, pdf []byte, pageIndex int, opts RasterOptions) ([]byte, error) {
	if r == nil {
		return nil, &RasterizationError{Page: pageIndex, Err: ErrBackendUnavailable}
	}
	doc, err := r.Open(pdf)
	if err != nil {
		return nil, &RasterizationError{Page: pageIndex, Err: err}
	}
	defer doc.Close()
	return RasterizeDocumentPage(ctx, doc, pageIndex, opts)
}

// RasterizeDocumentPage renders a page of an already opened document
func RasterizeDocumentPage(ctx context.Context, doc Document, pageIndex int, opts RasterOptions) ([]byte, error) {
	opts = opts.normalized()
	if pageIndex < 0 || pageIndex >= doc.NumPage() {
		return nil, &RasterizationError{Page: pageIndex, Err: fmt.Errorf("page index out of range, document has %d pages", doc.NumPage())}
	}

	img, err := doc.RenderPage(ctx, pageIndex, opts.DPI)
	if err != nil {
		return nil, &RasterizationError{Page: pageIndex, Err: err}
	}
	if img == nil || img.Bounds().Empty() {
		return nil, &RasterizationError{Page: pageIndex, Err: fmt.Errorf("renderer returned an empty image")}
	}

	data, err := EncodeImage(Flatten(img), opts.Format, opts.Quality)
	if err != nil {
		return nil, &RasterizationError{Page: pageIndex, Err: err}
	}
	return data, nil
}

// Flatten composites the image onto opaque white and drops the alpha channel
func Flatten(img image.Image) *image.NRGBA {
	src := imaging.Clone(img)
	bounds := src.Bounds()
	background := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	flat := imaging.Overlay(background, src, image.Pt(0, 0), 1.0)
	for i := 3; i < len(flat.Pix); i += 4 {
		flat.Pix[i] = 0xff
	}
	return flat
}

// EncodeImage encodes to PNG or JPEG. Zero byte output is an error.
func EncodeImage(img image.Image, format Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	default:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(pngCompression(quality)))
	}
	if err != nil {
		return nil, fmt.Errorf("unable to encode %s: %w", format, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("encoder produced no output")
	}
	return buf.Bytes(), nil
}

func pngCompression(quality int) png.CompressionLevel {
	switch {
	case quality >= 90:
		return png.BestCompression
	case quality >= 50:
		return png.DefaultCompression
	default:
		return png.BestSpeed
	}
}
