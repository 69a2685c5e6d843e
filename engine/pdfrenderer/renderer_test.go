package pdfrenderer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pdfcarousel/internal/blankpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blank pages are 200pt square, 200/72*150 = 416.7 pixels at 150 DPI
const blankPagePixels = 417

func TestLinkedRenderersRenderBlankPages(t *testing.T) {
	for _, kind := range []BackendKind{BackendPDFium, BackendFitz} {
		t.Run(string(kind), func(t *testing.T) {
			renderer, err := NewRenderer(&Backend{Kind: kind})
			require.NoError(t, err)
			defer renderer.Close()

			doc, err := renderer.Open(blankpdf.New(3))
			require.NoError(t, err)
			defer doc.Close()
			require.Equal(t, 3, doc.NumPage())

			for i := 0; i < 3; i++ {
				img, err := doc.RenderPage(context.Background(), i, 150)
				require.NoError(t, err)
				assert.InDelta(t, blankPagePixels, img.Bounds().Dx(), 1, "page %d width", i)
				assert.InDelta(t, blankPagePixels, img.Bounds().Dy(), 1, "page %d height", i)
			}

			_, err = doc.RenderPage(context.Background(), 3, 150)
			assert.Error(t, err)
		})
	}
}

func TestLinkedRendererRasterizesToWhitePNG(t *testing.T) {
	renderer, err := NewRenderer(&Backend{Kind: BackendPDFium})
	require.NoError(t, err)
	defer renderer.Close()

	data, err := RasterizePage(context.Background(), renderer, blankpdf.New(1), 0, DefaultRasterOptions())
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.InDelta(t, blankPagePixels, img.Bounds().Dx(), 1)
	r, g, b, a := img.At(img.Bounds().Dx()/2, img.Bounds().Dy()/2).RGBA()
	assert.EqualValues(t, 0xffff, a)
	assert.EqualValues(t, 0xffff, r)
	assert.EqualValues(t, 0xffff, g)
	assert.EqualValues(t, 0xffff, b)
}

func TestLinkedRendererRejectsGarbage(t *testing.T) {
	renderer, err := NewRenderer(&Backend{Kind: BackendPDFium})
	require.NoError(t, err)
	defer renderer.Close()

	_, err = renderer.Open([]byte("not a pdf at all"))
	assert.Error(t, err)
}

func TestGhostscriptRenderStopsWithContext(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a shell script standing in for gs")
	}
	gs := filepath.Join(t.TempDir(), "gs")
	require.NoError(t, os.WriteFile(gs, []byte("#!/bin/sh\nexec sleep 60\n"), 0o755))

	renderer, err := NewGhostscriptRenderer(&Backend{Kind: BackendGhostscript, Executable: gs})
	require.NoError(t, err)
	doc, err := renderer.Open(blankpdf.New(1))
	require.NoError(t, err)
	defer doc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = doc.RenderPage(ctx, 0, 72)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second, "gs is killed when the job context ends")
}
