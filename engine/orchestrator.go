package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drummonds/pdfcarousel/config"
	"github.com/drummonds/pdfcarousel/database"
	"github.com/drummonds/pdfcarousel/engine/pdfrenderer"
	"github.com/drummonds/pdfcarousel/engine/storage"
)

// DocumentStore is the part of the repository the orchestrator writes through
type DocumentStore interface {
	GetDocument(id string) (*database.Document, error)
	UpdateConversion(id string, update database.ConversionUpdate) error
}

// DocumentConverter rasterizes a stored PDF
type DocumentConverter interface {
	IsRasterizationAvailable() bool
	Convert(ctx context.Context, documentID string, sourcePath string) ([]string, error)
}

// PlaceholderMaker produces the single fallback preview
type PlaceholderMaker interface {
	Generate(ctx context.Context, documentID string, displayHint string) (string, error)
}

// ArtifactDeleter removes stored preview images
type ArtifactDeleter interface {
	DeleteArtifacts(ctx context.Context, imagePaths []string) error
}

// Orchestrator drives one document from pending to a terminal status
type Orchestrator struct {
	Store       DocumentStore
	Converter   DocumentConverter
	Placeholder PlaceholderMaker
	// Artifacts, when set, removes the images of the previous attempt once the new ones are recorded
	Artifacts ArtifactDeleter
}

// Run converts a document, falling back to a placeholder when rasterization is
// unavailable or fails. Conversion problems end in a terminal status and never
// escape as errors; only record store failures are returned.
//
// A cancelled ctx (shutdown) returns ctx.Err() and leaves the document processing
// for the backfill to pick up. A ctx that only ran out of time still gets its
// placeholder: the fallback and the status write run without ctx's deadline.
func (o *Orchestrator) Run(ctx context.Context, documentID string) (database.ConversionStatus, error) {
	start := time.Now()
	conversionsInFlight.Inc()
	defer conversionsInFlight.Dec()

	doc, err := o.Store.GetDocument(documentID)
	if err != nil {
		return "", fmt.Errorf("loading document %s: %w", documentID, err)
	}

	processing := database.ConversionProcessing
	if err := o.Store.UpdateConversion(documentID, database.ConversionUpdate{Status: &processing}); err != nil {
		return "", fmt.Errorf("marking document %s processing: %w", documentID, err)
	}
	Logger.Info("Conversion started", "documentID", documentID, "source", doc.SourcePath)

	paths, outcome := o.tryConvert(ctx, doc)
	if errors.Is(ctx.Err(), context.Canceled) {
		o.discard(documentID, paths)
		Logger.Warn("Conversion interrupted, left processing", "documentID", documentID)
		return "", ctx.Err()
	}

	finishCtx := context.WithoutCancel(ctx)
	if paths == nil {
		placeholder, err := o.tryPlaceholder(finishCtx, doc)
		if err != nil {
			Logger.Error("Placeholder generation failed", "documentID", documentID, "error", err)
			status, err := o.finish(documentID, database.ConversionFailed, []string{}, outcomeFailed, start)
			o.dropPrevious(finishCtx, doc, nil, err)
			return status, err
		}
		paths = []string{placeholder}
		outcome = outcomePlaceholder
	}

	status, err := o.finish(documentID, database.ConversionCompleted, paths, outcome, start)
	if errors.Is(err, database.ErrNotFound) {
		// deleted while converting, nothing references these images any more
		o.discard(documentID, paths)
		return status, err
	}
	o.dropPrevious(finishCtx, doc, paths, err)
	return status, err
}

// discard removes images written by an attempt that will never be recorded
func (o *Orchestrator) discard(documentID string, paths []string) {
	if o.Artifacts == nil || len(paths) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.Artifacts.DeleteArtifacts(ctx, paths); err != nil {
		Logger.Warn("Could not remove unrecorded preview images", "documentID", documentID, "error", err)
	}
}

// dropPrevious deletes images from an earlier attempt that the new record no longer lists
func (o *Orchestrator) dropPrevious(ctx context.Context, doc *database.Document, current []string, recordErr error) {
	if o.Artifacts == nil || recordErr != nil || len(doc.ImagePaths) == 0 {
		return
	}
	keep := make(map[string]bool, len(current))
	for _, p := range current {
		keep[p] = true
	}
	var stale []string
	for _, p := range doc.ImagePaths {
		if !keep[p] {
			stale = append(stale, p)
		}
	}
	if err := o.Artifacts.DeleteArtifacts(ctx, stale); err != nil {
		Logger.Warn("Could not remove previous preview images", "documentID", doc.ID.String(), "error", err)
	}
}

// tryConvert returns nil paths whenever the placeholder should be used
func (o *Orchestrator) tryConvert(ctx context.Context, doc *database.Document) (paths []string, outcome string) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in rasterization", "documentID", doc.ID.String(), "panic", r)
			paths = nil
		}
	}()

	if o.Converter == nil || !o.Converter.IsRasterizationAvailable() {
		Logger.Warn("No rasterization backend available, using placeholder", "documentID", doc.ID.String())
		return nil, ""
	}

	paths, err := o.Converter.Convert(ctx, doc.ID.String(), doc.SourcePath)
	switch {
	case errors.Is(err, pdfrenderer.ErrBackendUnavailable):
		Logger.Warn("Rasterization backend failed to start, using placeholder", "documentID", doc.ID.String(), "error", err)
		return nil, ""
	case err != nil:
		Logger.Error("Rasterization failed, using placeholder", "documentID", doc.ID.String(), "error", err)
		return nil, ""
	case len(paths) == 0:
		Logger.Warn("Rasterization produced no images, using placeholder", "documentID", doc.ID.String())
		return nil, ""
	}
	return paths, outcomeRasterized
}

func (o *Orchestrator) tryPlaceholder(ctx context.Context, doc *database.Document) (key string, err error) {
	defer func() {
		if r := recover(); r != nil {
			key = ""
			err = fmt.Errorf("%w: panic: %v", ErrPlaceholderFailed, r)
		}
	}()
	if o.Placeholder == nil {
		return "", ErrPlaceholderFailed
	}
	hint := doc.OriginalFilename
	if hint == "" {
		hint = doc.SourcePath
	}
	return o.Placeholder.Generate(ctx, doc.ID.String(), hint)
}

func (o *Orchestrator) finish(documentID string, status database.ConversionStatus, paths []string, outcome string, start time.Time) (database.ConversionStatus, error) {
	if err := o.Store.UpdateConversion(documentID, database.ConversionUpdate{Status: &status, ImagePaths: &paths}); err != nil {
		return "", fmt.Errorf("recording %s for document %s: %w", status, documentID, err)
	}
	conversionsTotal.WithLabelValues(outcome).Inc()
	conversionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	Logger.Info("Conversion finished", "documentID", documentID, "status", status, "outcome", outcome, "images", len(paths), "elapsed", time.Since(start))
	return status, nil
}

// NewOrchestrator wires a converter and placeholder generator over store
func NewOrchestrator(serverConfig config.ServerConfig, db DocumentStore, store storage.Store) (*Orchestrator, *Converter, error) {
	converter, err := NewConverter(serverConfig, store)
	if err != nil {
		return nil, nil, err
	}
	return &Orchestrator{
		Store:     db,
		Converter: converter,
		Placeholder: &PlaceholderGenerator{
			Store:       store,
			ImagePrefix: serverConfig.ImagePrefix,
			Format:      converter.Options.Format,
			Quality:     serverConfig.ImageQuality,
		},
		Artifacts: converter,
	}, converter, nil
}
