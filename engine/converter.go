package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/drummonds/pdfcarousel/config"
	"github.com/drummonds/pdfcarousel/engine/pdfrenderer"
	"github.com/drummonds/pdfcarousel/engine/storage"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// ErrArtifactWriteFailed means an output image could not be stored or came out empty
var ErrArtifactWriteFailed = errors.New("artifact write failed")

// Converter rasterizes every page of a stored PDF into the image prefix
type Converter struct {
	Store       storage.Store
	ImagePrefix string
	Options     pdfrenderer.RasterOptions
	Workers     int // pages rendered concurrently
	Locator     pdfrenderer.LocatorOptions
	// NewRenderer starts a renderer for a located backend, replaceable in tests
	NewRenderer func(*pdfrenderer.Backend) (pdfrenderer.Renderer, error)

	mu       sync.Mutex
	renderer pdfrenderer.Renderer
	backend  *pdfrenderer.Backend
}

// NewConverter builds a converter from the server configuration
func NewConverter(serverConfig config.ServerConfig, store storage.Store) (*Converter, error) {
	format, err := pdfrenderer.ParseFormat(serverConfig.ImageFormat)
	if err != nil {
		return nil, err
	}
	kind, err := pdfrenderer.ParseBackendKind(serverConfig.RenderBackend)
	if err != nil {
		return nil, err
	}
	return &Converter{
		Store:       store,
		ImagePrefix: serverConfig.ImagePrefix,
		Options: pdfrenderer.RasterOptions{
			DPI:     serverConfig.RenderDPI,
			Format:  format,
			Quality: serverConfig.ImageQuality,
		},
		Workers: serverConfig.ConvertWorkers,
		Locator: pdfrenderer.LocatorOptions{
			Preferred:       kind,
			GhostscriptPath: serverConfig.GhostscriptPath,
		},
		NewRenderer: pdfrenderer.NewRenderer,
	}, nil
}

// acquireRenderer returns the cached renderer, starting the first candidate backend that works
func (c *Converter) acquireRenderer() (pdfrenderer.Renderer, *pdfrenderer.Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.renderer != nil {
		return c.renderer, c.backend, nil
	}

	newRenderer := c.NewRenderer
	if newRenderer == nil {
		newRenderer = pdfrenderer.NewRenderer
	}
	for _, candidate := range pdfrenderer.Candidates(c.Locator) {
		backend := candidate
		renderer, err := newRenderer(&backend)
		if err != nil {
			Logger.Warn("Rasterization backend failed to start", "backend", backend.String(), "error", err)
			continue
		}
		Logger.Info("Rasterization backend ready", "backend", backend.String())
		c.renderer = renderer
		c.backend = &backend
		return renderer, c.backend, nil
	}
	return nil, nil, pdfrenderer.ErrBackendUnavailable
}

// IsRasterizationAvailable reports whether a backend is located and running
func (c *Converter) IsRasterizationAvailable() bool {
	_, _, err := c.acquireRenderer()
	return err == nil
}

// Backend describes the active backend, nil when none is running
func (c *Converter) Backend() *pdfrenderer.Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend
}

// Convert renders every page of sourcePath and returns the stored image keys in page order.
// Any failing page aborts the whole document and removes the pages already written.
func (c *Converter) Convert(ctx context.Context, documentID string, sourcePath string) ([]string, error) {
	start := time.Now()
	data, err := c.Store.Get(ctx, sourcePath)
	if err != nil {
		return nil, &pdfrenderer.RasterizationError{Page: -1, Err: fmt.Errorf("source %s: %w", sourcePath, err)}
	}
	if len(data) == 0 {
		return nil, &pdfrenderer.RasterizationError{Page: -1, Err: fmt.Errorf("source %s is empty", sourcePath)}
	}

	renderer, _, err := c.acquireRenderer()
	if err != nil {
		return nil, err
	}

	doc, err := renderer.Open(data)
	if err != nil {
		return nil, &pdfrenderer.RasterizationError{Page: -1, Err: err}
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount <= 0 {
		return nil, &pdfrenderer.RasterizationError{Page: -1, Err: fmt.Errorf("document has no pages")}
	}

	batchID := ulid.Make().String()
	baseName := artifactBaseName(sourcePath, documentID)
	ext := c.options().Format.Extension()
	paths := make([]string, pageCount)

	workers := c.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < pageCount; i++ {
		pageIndex := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &pdfrenderer.RasterizationError{Page: pageIndex, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			encoded, err := pdfrenderer.RasterizeDocumentPage(gctx, doc, pageIndex, c.options())
			if err != nil {
				Logger.Error("Page rasterization failed", "documentID", documentID, "page", pageIndex, "error", err)
				return err
			}
			key := artifactKey(c.ImagePrefix, baseName, batchID, pageIndex, ext)
			if err := c.writeArtifact(gctx, key, encoded); err != nil {
				Logger.Error("Writing page image failed", "documentID", documentID, "page", pageIndex, "key", key, "error", err)
				return &pdfrenderer.RasterizationError{Page: pageIndex, Err: err}
			}
			paths[pageIndex] = key
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.removePartial(documentID, paths)
		return nil, err
	}

	pagesRendered.Add(float64(pageCount))
	Logger.Info("Document converted", "documentID", documentID, "pages", pageCount, "batch", batchID, "elapsed", time.Since(start))
	return paths, nil
}

// writeArtifact stores an image and checks it landed with a non-zero size
func (c *Converter) writeArtifact(ctx context.Context, key string, data []byte) error {
	return storeArtifact(ctx, c.Store, key, data)
}

func storeArtifact(ctx context.Context, store storage.Store, key string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrArtifactWriteFailed, key)
	}
	if err := store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("%w: %v", ErrArtifactWriteFailed, err)
	}
	size, err := store.Size(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArtifactWriteFailed, err)
	}
	if size == 0 {
		return fmt.Errorf("%w: %s is empty", ErrArtifactWriteFailed, key)
	}
	return nil
}

func (c *Converter) removePartial(documentID string, paths []string) {
	// the conversion context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.DeleteArtifacts(ctx, paths); err != nil {
		Logger.Warn("Could not remove partial conversion output", "documentID", documentID, "error", err)
	}
}

// DeleteArtifacts removes stored images. Missing files are ignored, other failures are joined.
func (c *Converter) DeleteArtifacts(ctx context.Context, imagePaths []string) error {
	var errs []error
	for _, p := range imagePaths {
		if p == "" {
			continue
		}
		if err := c.Store.Delete(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops the running renderer
func (c *Converter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.renderer == nil {
		return nil
	}
	err := c.renderer.Close()
	c.renderer = nil
	c.backend = nil
	return err
}

func (c *Converter) options() pdfrenderer.RasterOptions {
	opts := c.Options
	if opts.Format == "" {
		opts.Format = pdfrenderer.FormatPNG
	}
	return opts
}

func artifactKey(prefix, baseName, batchID string, pageIndex int, ext string) string {
	return path.Join(prefix, fmt.Sprintf("%s_%s_page%d.%s", baseName, batchID, pageIndex, ext))
}

// artifactBaseName is the source file name without extension, limited to safe characters
func artifactBaseName(sourcePath, fallback string) string {
	base := path.Base(strings.ReplaceAll(sourcePath, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	cleaned := sanitizeName(base)
	if cleaned == "" {
		cleaned = sanitizeName(fallback)
	}
	if cleaned == "" {
		cleaned = "document"
	}
	return cleaned
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 80 {
		out = out[:80]
	}
	return out
}
