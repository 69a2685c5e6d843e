package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/drummonds/pdfcarousel/config"
	"github.com/drummonds/pdfcarousel/database"
	"github.com/drummonds/pdfcarousel/engine/pdfrenderer"
	"github.com/drummonds/pdfcarousel/engine/storage"
	"github.com/stretchr/testify/require"
)

var loggerOnce sync.Once

func setupTestLoggers() {
	loggerOnce.Do(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
		Logger = logger
		database.Logger = logger
		pdfrenderer.Logger = logger
		storage.Logger = logger
	})
}

func newTestRepository(t *testing.T) *database.BunDB {
	t.Helper()
	setupTestLoggers()
	db, err := database.OpenRepository(config.ServerConfig{DatabaseType: "sqlite", DatabaseDbname: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T) *storage.LocalStore {
	t.Helper()
	setupTestLoggers()
	store := storage.NewLocalStore(t.TempDir())
	require.NoError(t, store.EnsurePrefix(context.Background(), "pdfs"))
	require.NoError(t, store.EnsurePrefix(context.Background(), "pdf-images"))
	return store
}

// fakeRenderer produces small solid pages, one colour shade per page index
type fakeRenderer struct {
	pages   int
	openErr error
	failOn  map[int]error
	panicOn map[int]bool
	// release, when set, holds every page until it is closed or ctx is done.
	// started is closed once the first page is waiting.
	release chan struct{}
	started chan struct{}

	mu          sync.Mutex
	opened      int
	closed      bool
	startedOnce sync.Once
}

func (f *fakeRenderer) Open(pdf []byte) (pdfrenderer.Document, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
	return &fakeDocument{r: f}, nil
}

func (f *fakeRenderer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeDocument struct {
	r *fakeRenderer
}

func (d *fakeDocument) NumPage() int { return d.r.pages }

func (d *fakeDocument) RenderPage(ctx context.Context, index int, dpi int) (image.Image, error) {
	if d.r.release != nil {
		if d.r.started != nil {
			d.r.startedOnce.Do(func() { close(d.r.started) })
		}
		select {
		case <-d.r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.r.panicOn[index] {
		panic("renderer crashed")
	}
	if err := d.r.failOn[index]; err != nil {
		return nil, err
	}
	img := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	shade := uint8(10 * (index + 1))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	return img, nil
}

func (d *fakeDocument) Close() error { return nil }

// newTestConverter returns a converter whose only backend is renderer
func newTestConverter(store storage.Store, renderer pdfrenderer.Renderer) *Converter {
	return &Converter{
		Store:       store,
		ImagePrefix: "pdf-images",
		Options:     pdfrenderer.DefaultRasterOptions(),
		Workers:     3,
		Locator:     pdfrenderer.LocatorOptions{Preferred: pdfrenderer.BackendPDFium},
		NewRenderer: func(*pdfrenderer.Backend) (pdfrenderer.Renderer, error) {
			if renderer == nil {
				return nil, errors.New("backend library missing")
			}
			return renderer, nil
		},
	}
}

// putSource stores a fake PDF and records a pending document for it
func putSource(t *testing.T, db database.Repository, store storage.Store, title string) *database.Document {
	t.Helper()
	sourcePath := "pdfs/" + title + ".pdf"
	require.NoError(t, store.Put(context.Background(), sourcePath, []byte("%PDF-1.4 fake")))
	doc, err := database.NewDocument("alice", title, title+".pdf", sourcePath)
	require.NoError(t, err)
	require.NoError(t, db.CreateDocument(doc, false))
	return doc
}

// failingStore refuses every write
type failingStore struct {
	*storage.LocalStore
}

func (f *failingStore) Put(ctx context.Context, key string, data []byte) error {
	return errors.New("disk full")
}
