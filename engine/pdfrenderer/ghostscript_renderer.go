package pdfrenderer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ghostscriptPageTimeout bounds a single gs invocation
const ghostscriptPageTimeout = 2 * time.Minute

var disablePdfcpuConfig sync.Once

// GhostscriptRenderer renders pages by running the external gs executable
type GhostscriptRenderer struct {
	backend *Backend
}

// NewGhostscriptRenderer wraps a located ghostscript backend
func NewGhostscriptRenderer(backend *Backend) (*GhostscriptRenderer, error) {
	if backend == nil || backend.Executable == "" {
		return nil, ErrBackendUnavailable
	}
	return &GhostscriptRenderer{backend: backend}, nil
}

// PageCount reads the number of pages with pdfcpu
func PageCount(pdf []byte) (int, error) {
	disablePdfcpuConfig.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(bytes.NewReader(pdf), conf)
}

// Open spools the PDF to a temp file for gs and counts its pages
func (r *GhostscriptRenderer) Open(pdf []byte) (Document, error) {
	pageCount, err := PageCount(pdf)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}

	tmp, err := os.CreateTemp("", "pdfcarousel-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("unable to create temp file: %w", err)
	}
	if _, err := tmp.Write(pdf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("unable to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("unable to close temp file: %w", err)
	}

	return &ghostscriptDocument{
		backend:   r.backend,
		path:      tmp.Name(),
		pageCount: pageCount,
	}, nil
}

// Close is a no-op, gs runs as a fresh process per page
func (r *GhostscriptRenderer) Close() error {
	return nil
}

type ghostscriptDocument struct {
	backend   *Backend
	path      string
	pageCount int
}

func (d *ghostscriptDocument) NumPage() int { return d.pageCount }

func (d *ghostscriptDocument) RenderPage(ctx context.Context, index int, dpi int) (image.Image, error) {
	if index < 0 || index >= d.pageCount {
		return nil, fmt.Errorf("page %d out of range (0-%d)", index, d.pageCount-1)
	}
	ctx, cancel := context.WithTimeout(ctx, ghostscriptPageTimeout)
	defer cancel()

	// gs pages are 1 based
	page := strconv.Itoa(index + 1)
	cmd := exec.CommandContext(ctx, d.backend.Executable,
		"-q", "-dNOPAUSE", "-dBATCH", "-dSAFER",
		"-sDEVICE=png16m",
		"-dTextAlphaBits=4", "-dGraphicsAlphaBits=4",
		"-r"+strconv.Itoa(dpi),
		"-dFirstPage="+page, "-dLastPage="+page,
		"-sOutputFile=-",
		d.path,
	)
	cmd.Env = d.backend.CommandEnv()
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ghostscript failed on page %d: %w: %s", index, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ghostscript produced no output for page %d", index)
	}

	img, err := imaging.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("unable to decode ghostscript output for page %d: %w", index, err)
	}
	return img, nil
}

func (d *ghostscriptDocument) Close() error {
	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
