// Package pdfrenderer turns PDF pages into raster images. It locates a rendering
// backend, opens documents through it and rasterizes single pages to encoded bytes.
package pdfrenderer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

var (
	// ErrBackendUnavailable means no rasterization backend could be found or started
	ErrBackendUnavailable = errors.New("no rasterization backend available")
	// ErrRasterizationFailed means a page or the whole document could not be rendered
	ErrRasterizationFailed = errors.New("rasterization failed")
)

// RasterizationError records which page failed and why. Page is -1 for whole document failures.
type RasterizationError struct {
	Page int
	Err  error
}

func (e *RasterizationError) Error() string {
	if e.Page < 0 {
		return fmt.Sprintf("rasterization failed: %v", e.Err)
	}
	return fmt.Sprintf("rasterization failed on page %d: %v", e.Page, e.Err)
}

func (e *RasterizationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRasterizationFailed) match any RasterizationError
func (e *RasterizationError) Is(target error) bool {
	return target == ErrRasterizationFailed
}

// Renderer opens PDF documents for page rendering
type Renderer interface {
	// Open parses a PDF held in memory
	Open(pdf []byte) (Document, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// Document is an opened PDF
type Document interface {
	NumPage() int
	// RenderPage renders the zero based page at the given resolution. Backends that
	// run an external process stop it when ctx is done.
	RenderPage(ctx context.Context, index int, dpi int) (image.Image, error)
	Close() error
}

// NewRenderer starts the renderer for a located backend
func NewRenderer(backend *Backend) (Renderer, error) {
	if backend == nil {
		return nil, ErrBackendUnavailable
	}
	switch backend.Kind {
	case BackendPDFium:
		return NewPDFiumRenderer()
	case BackendFitz:
		return NewFitzRenderer()
	case BackendGhostscript:
		return NewGhostscriptRenderer(backend)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrBackendUnavailable, backend.Kind)
	}
}

func logger() *slog.Logger {
	if Logger == nil {
		return slog.Default()
	}
	return Logger
}
