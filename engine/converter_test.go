package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pdfcarousel/engine/pdfrenderer"
	"github.com/drummonds/pdfcarousel/internal/blankpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listImages(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, "pdf-images"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestConvertReturnsPagesInOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "pdfs/menu.pdf", []byte("%PDF-1.4")))
	converter := newTestConverter(store, &fakeRenderer{pages: 3})

	paths, err := converter.Convert(ctx, "doc1", "pdfs/menu.pdf")
	require.NoError(t, err)
	require.Len(t, paths, 3)

	for i, p := range paths {
		assert.True(t, strings.HasPrefix(p, "pdf-images/menu_"), p)
		assert.True(t, strings.HasSuffix(p, []string{"_page0.png", "_page1.png", "_page2.png"}[i]), p)

		data, err := store.Get(ctx, p)
		require.NoError(t, err)
		img, err := imaging.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		// page index is encoded in the shade, so order is checked by content too
		r, _, _, _ := img.At(0, 0).RGBA()
		assert.EqualValues(t, 10*(i+1), r>>8)
	}
}

func TestConvertBatchIDsAreDistinct(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "pdfs/menu.pdf", []byte("%PDF-1.4")))
	converter := newTestConverter(store, &fakeRenderer{pages: 1})

	first, err := converter.Convert(ctx, "doc1", "pdfs/menu.pdf")
	require.NoError(t, err)
	second, err := converter.Convert(ctx, "doc1", "pdfs/menu.pdf")
	require.NoError(t, err)

	assert.NotEqual(t, first[0], second[0])
	// the earlier attempt is untouched
	_, err = store.Size(ctx, first[0])
	assert.NoError(t, err)
	assert.Len(t, listImages(t, store.Root()), 2)
}

func TestConvertPageFailureLeavesNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "pdfs/report.pdf", []byte("%PDF-1.4")))
	converter := newTestConverter(store, &fakeRenderer{
		pages:  3,
		failOn: map[int]error{1: errors.New("corrupt page")},
	})
	converter.Workers = 1

	paths, err := converter.Convert(ctx, "doc2", "pdfs/report.pdf")
	assert.Nil(t, paths)
	require.Error(t, err)
	assert.ErrorIs(t, err, pdfrenderer.ErrRasterizationFailed)

	var rasterErr *pdfrenderer.RasterizationError
	require.ErrorAs(t, err, &rasterErr)
	assert.Equal(t, 1, rasterErr.Page)

	assert.Empty(t, listImages(t, store.Root()), "partial pages must be removed")
}

func TestConvertMissingSource(t *testing.T) {
	store := newTestStore(t)
	converter := newTestConverter(store, &fakeRenderer{pages: 1})

	paths, err := converter.Convert(context.Background(), "doc3", "pdfs/missing.pdf")
	assert.Nil(t, paths)
	assert.ErrorIs(t, err, pdfrenderer.ErrRasterizationFailed)
}

func TestConvertZeroPages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "pdfs/empty.pdf", []byte("%PDF-1.4")))
	converter := newTestConverter(store, &fakeRenderer{pages: 0})

	paths, err := converter.Convert(ctx, "doc4", "pdfs/empty.pdf")
	assert.Nil(t, paths)
	assert.ErrorIs(t, err, pdfrenderer.ErrRasterizationFailed)
}

func TestConvertWithoutBackend(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "pdfs/a.pdf", []byte("%PDF-1.4")))
	converter := newTestConverter(store, nil)

	assert.False(t, converter.IsRasterizationAvailable())
	_, err := converter.Convert(ctx, "doc5", "pdfs/a.pdf")
	assert.ErrorIs(t, err, pdfrenderer.ErrBackendUnavailable)

	converter.Locator.Preferred = pdfrenderer.BackendNone
	assert.False(t, converter.IsRasterizationAvailable())
}

func TestDeleteArtifacts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "pdf-images/a_page0.png", []byte("x")))
	converter := newTestConverter(store, nil)

	err := converter.DeleteArtifacts(ctx, []string{"pdf-images/a_page0.png", "pdf-images/gone.png", ""})
	assert.NoError(t, err, "missing files are not an error")
	assert.Empty(t, listImages(t, store.Root()))

	err = converter.DeleteArtifacts(ctx, []string{"../escape.png"})
	assert.Error(t, err)
}

func TestConverterCloseReleasesRenderer(t *testing.T) {
	renderer := &fakeRenderer{pages: 1}
	converter := newTestConverter(newTestStore(t), renderer)
	require.True(t, converter.IsRasterizationAvailable())
	assert.Equal(t, pdfrenderer.BackendPDFium, converter.Backend().Kind)

	require.NoError(t, converter.Close())
	assert.True(t, renderer.closed)
	assert.Nil(t, converter.Backend())
}

func TestArtifactBaseName(t *testing.T) {
	assert.Equal(t, "Annual_report_2024", artifactBaseName("pdfs/Annual report 2024.pdf", "id"))
	assert.Equal(t, "id123", artifactBaseName("pdfs/%%%.pdf", "id123"))
	assert.Equal(t, "scan", artifactBaseName(`C:\uploads\scan.pdf`, "id"))
}

func TestConvertWithPDFium(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "pdfs/blank.pdf", blankpdf.New(3)))
	converter := &Converter{
		Store:       store,
		ImagePrefix: "pdf-images",
		Options:     pdfrenderer.DefaultRasterOptions(),
		Workers:     2,
		Locator:     pdfrenderer.LocatorOptions{Preferred: pdfrenderer.BackendPDFium},
	}
	defer converter.Close()

	require.True(t, converter.IsRasterizationAvailable())
	assert.Equal(t, pdfrenderer.BackendPDFium, converter.Backend().Kind)

	paths, err := converter.Convert(ctx, "doc1", "pdfs/blank.pdf")
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for i, p := range paths {
		assert.True(t, strings.HasSuffix(p, fmt.Sprintf("_page%d.png", i)), p)
		data, err := store.Get(ctx, p)
		require.NoError(t, err)
		img, err := imaging.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.InDelta(t, 417, img.Bounds().Dx(), 1)
	}
	assert.Len(t, listImages(t, store.Root()), 3)
}
