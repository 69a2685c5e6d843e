package pdfrenderer

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// PDFiumRenderer implements PDF rendering using go-pdfium with WebAssembly (pure Go, no CGo)
type PDFiumRenderer struct {
	mu       sync.Mutex // a pdfium instance is single threaded
	pool     pdfium.Pool
	instance pdfium.Pdfium
}

// NewPDFiumRenderer creates a new PDFium-based PDF renderer using WebAssembly
func NewPDFiumRenderer() (*PDFiumRenderer, error) {
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1, // Minimum idle workers
		MaxIdle:  1, // Maximum idle workers
		MaxTotal: 1, // Total worker limit
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	return &PDFiumRenderer{
		pool:     pool,
		instance: instance,
	}, nil
}

// Open loads the PDF into the pdfium instance
func (r *PDFiumRenderer) Open(pdf []byte) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instance == nil {
		return nil, fmt.Errorf("pdfium renderer is closed")
	}

	doc, err := r.instance.OpenDocument(&requests.OpenDocument{
		File: &pdf,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}

	pageCountResp, err := r.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		r.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})
		return nil, fmt.Errorf("unable to get page count: %w", err)
	}

	return &pdfiumDocument{
		renderer:  r,
		document:  doc.Document,
		pageCount: pageCountResp.PageCount,
	}, nil
}

// Close cleans up resources used by the PDFium renderer
func (r *PDFiumRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	r.instance = nil
	return nil
}

type pdfiumDocument struct {
	renderer  *PDFiumRenderer
	document  references.FPDF_DOCUMENT
	pageCount int
}

func (d *pdfiumDocument) NumPage() int { return d.pageCount }

func (d *pdfiumDocument) RenderPage(ctx context.Context, index int, dpi int) (image.Image, error) {
	if index < 0 || index >= d.pageCount {
		return nil, fmt.Errorf("page %d out of range (0-%d)", index, d.pageCount-1)
	}
	d.renderer.mu.Lock()
	defer d.renderer.mu.Unlock()
	if d.renderer.instance == nil {
		return nil, fmt.Errorf("pdfium renderer is closed")
	}
	// pages queue on the instance lock, skip the work if the job is gone
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pageRender, err := d.renderer.instance.RenderPageInDPI(&requests.RenderPageInDPI{
		DPI: dpi,
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{
				Document: d.document,
				Index:    index,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, err)
	}
	// the result buffer is released by Cleanup, keep a copy
	img := imaging.Clone(pageRender.Result.Image)
	pageRender.Cleanup()

	return img, nil
}

func (d *pdfiumDocument) Close() error {
	d.renderer.mu.Lock()
	defer d.renderer.mu.Unlock()
	if d.renderer.instance == nil {
		return nil
	}
	_, err := d.renderer.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: d.document,
	})
	return err
}
