// Command gssetup locates Ghostscript, creates the gs alias next to it and checks
// that the configured rasterization backend can render a page.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	config "github.com/drummonds/pdfcarousel/config"
	"github.com/drummonds/pdfcarousel/engine/pdfrenderer"
	"github.com/drummonds/pdfcarousel/internal/blankpdf"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

func main() {
	gsPath := flag.String("gs", "", "Ghostscript executable, overrides GHOSTSCRIPT_PATH")
	skipRender := flag.Bool("skip-render", false, "only locate Ghostscript, do not render a test page")
	flag.Parse()

	serverConfig, logger := config.SetupServer()
	Logger = logger
	config.Logger = logger
	pdfrenderer.Logger = logger
	if *gsPath != "" {
		serverConfig.GhostscriptPath = *gsPath
	}

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("Ghostscript setup")
	fmt.Println(strings.Repeat("=", 50))

	opts := pdfrenderer.LocatorOptions{GhostscriptPath: serverConfig.GhostscriptPath}
	gs, found := pdfrenderer.LocateGhostscript(opts)
	if found {
		fmt.Printf("• Ghostscript: %s\n", gs.Executable)
		fmt.Printf("• Directory:   %s\n", gs.BinDir)
	} else {
		fmt.Println("• Ghostscript not found")
	}

	kind, err := pdfrenderer.ParseBackendKind(serverConfig.RenderBackend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid RENDER_BACKEND: %v\n", err)
		os.Exit(2)
	}
	opts.Preferred = kind
	if *skipRender {
		if kind == pdfrenderer.BackendGhostscript && !found {
			os.Exit(1)
		}
		return
	}

	if err := renderTestPage(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "• Test render failed: %v\n", err)
		fmt.Println("Uploads will get placeholder previews until a backend is installed.")
		os.Exit(1)
	}
	fmt.Println(strings.Repeat("=", 50))
}

// renderTestPage renders the first page of a blank PDF with every candidate until one works
func renderTestPage(ctx context.Context, opts pdfrenderer.LocatorOptions) error {
	candidates := pdfrenderer.Candidates(opts)
	if len(candidates) == 0 {
		return pdfrenderer.ErrBackendUnavailable
	}

	var lastErr error
	for _, candidate := range candidates {
		backend := candidate
		renderer, err := pdfrenderer.NewRenderer(&backend)
		if err != nil {
			Logger.Warn("Backend failed to start", "backend", backend.String(), "error", err)
			lastErr = err
			continue
		}
		data, err := pdfrenderer.RasterizePage(ctx, renderer, blankpdf.New(1), 0, pdfrenderer.DefaultRasterOptions())
		renderer.Close()
		if err != nil {
			Logger.Warn("Backend failed to render", "backend", backend.String(), "error", err)
			lastErr = err
			continue
		}
		fmt.Printf("• Backend %s rendered a test page (%d bytes)\n", backend.String(), len(data))
		return nil
	}
	return fmt.Errorf("%w: %v", pdfrenderer.ErrBackendUnavailable, lastErr)
}
