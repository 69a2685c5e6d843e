package engine

import (
	"context"
	"fmt"

	"github.com/drummonds/pdfcarousel/config"
)

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks(ctx context.Context) error {
	if err := storageChecks(ctx, serverHandler); err != nil {
		return err
	}
	ghostscriptChecks(serverHandler.ServerConfig)
	backendChecks(serverHandler)
	return nil
}

// storageChecks creates the upload and image prefixes
func storageChecks(ctx context.Context, serverHandler *ServerHandler) error {
	for _, prefix := range []string{serverHandler.ServerConfig.PDFPrefix, serverHandler.ServerConfig.ImagePrefix} {
		if prefix == "" {
			Logger.Warn("Storage prefix not configured")
			continue
		}
		if err := serverHandler.Store.EnsurePrefix(ctx, prefix); err != nil {
			Logger.Error("Failed to prepare storage prefix", "prefix", prefix, "error", err)
			return fmt.Errorf("storage prefix %s: %w", prefix, err)
		}
		Logger.Info("Storage prefix ready", "prefix", prefix)
	}
	return nil
}

func ghostscriptChecks(serverConfig config.ServerConfig) {
	if serverConfig.GhostscriptPath == "" {
		Logger.Info("Ghostscript path not configured, searching standard locations")
		return
	}
	if !config.ValidateGhostscriptPath(serverConfig, Logger) {
		Logger.Warn("Configured Ghostscript is unusable, other backends will be tried", "path", serverConfig.GhostscriptPath)
	}
}

// backendChecks starts the rasterization backend; a missing backend only means placeholders
func backendChecks(serverHandler *ServerHandler) {
	if serverHandler.Converter == nil {
		return
	}
	if !serverHandler.Converter.IsRasterizationAvailable() {
		Logger.Warn("No rasterization backend available, uploads will get placeholder previews")
		return
	}
	Logger.Info("Rasterization available", "backend", serverHandler.Converter.Backend().String())
}
