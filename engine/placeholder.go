package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pdfcarousel/engine/pdfrenderer"
	"github.com/drummonds/pdfcarousel/engine/storage"
	"github.com/oklog/ulid/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ErrPlaceholderFailed means the fallback preview could not be produced
var ErrPlaceholderFailed = errors.New("placeholder generation failed")

const (
	placeholderWidth   = 1200
	placeholderHeight  = 900
	placeholderCaption = "PDF Document"
	captionScale       = 2
)

var (
	placeholderBackground = color.NRGBA{R: 243, G: 244, B: 246, A: 255}
	placeholderAccent     = color.NRGBA{R: 59, G: 130, B: 246, A: 255}
	placeholderText       = color.NRGBA{R: 75, G: 85, B: 99, A: 255}
	placeholderIcon       = image.Rect(550, 350, 650, 500)
	captionTop            = 550
)

// PlaceholderGenerator writes the "document unavailable" preview
type PlaceholderGenerator struct {
	Store       storage.Store
	ImagePrefix string
	Format      pdfrenderer.Format
	Quality     int
}

// Generate stores a placeholder image named like a first page render and returns its key.
// A panic during synthesis is returned as ErrPlaceholderFailed.
func (p *PlaceholderGenerator) Generate(ctx context.Context, documentID string, displayHint string) (key string, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in placeholder generation", "documentID", documentID, "panic", r)
			key = ""
			err = fmt.Errorf("%w: panic: %v", ErrPlaceholderFailed, r)
		}
	}()

	format := p.Format
	if format == "" {
		format = pdfrenderer.FormatPNG
	}
	quality := p.Quality
	if quality <= 0 {
		quality = pdfrenderer.DefaultRasterOptions().Quality
	}

	data, err := pdfrenderer.EncodeImage(RenderPlaceholder(), format, quality)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPlaceholderFailed, err)
	}

	key = artifactKey(p.ImagePrefix, artifactBaseName(displayHint, documentID), ulid.Make().String(), 0, format.Extension())
	if err := storeArtifact(ctx, p.Store, key, data); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPlaceholderFailed, err)
	}

	Logger.Info("Placeholder preview generated", "documentID", documentID, "key", key)
	return key, nil
}

// RenderPlaceholder draws the fixed 1200x900 placeholder
func RenderPlaceholder() *image.NRGBA {
	canvas := imaging.New(placeholderWidth, placeholderHeight, placeholderBackground)

	icon := imaging.New(placeholderIcon.Dx(), placeholderIcon.Dy(), placeholderAccent)
	canvas = imaging.Paste(canvas, icon, placeholderIcon.Min)

	caption := renderCaption(placeholderCaption)
	x := (placeholderWidth - caption.Bounds().Dx()) / 2
	return imaging.Overlay(canvas, caption, image.Pt(x, captionTop), 1.0)
}

// renderCaption draws text on a transparent strip using the built in bitmap face
func renderCaption(text string) *image.NRGBA {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	width := font.MeasureString(face, text).Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()

	strip := image.NewNRGBA(image.Rect(0, 0, width, height))
	drawer := &font.Drawer{
		Dst:  strip,
		Src:  image.NewUniform(placeholderText),
		Face: face,
		Dot:  fixed.P(0, metrics.Ascent.Ceil()),
	}
	drawer.DrawString(text)

	return imaging.Resize(strip, width*captionScale, height*captionScale, imaging.NearestNeighbor)
}
