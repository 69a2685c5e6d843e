package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCheckExecutables_ValidPath(t *testing.T) {
	tempDir := t.TempDir()
	validExe := filepath.Join(tempDir, "gs")

	file, err := os.Create(validExe)
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	file.Close()

	err = os.Chmod(validExe, 0755)
	if err != nil {
		t.Fatalf("Failed to chmod file: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	err = checkExecutables(validExe, logger)
	if err != nil {
		t.Errorf("Expected no error with valid path, got: %v", err)
	}
}

func TestCheckExecutables_InvalidPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	invalidPath := "/nonexistent/path/to/gs"
	err := checkExecutables(invalidPath, logger)
	if err == nil {
		t.Error("Expected error with invalid path, got nil")
	}
	t.Logf("Correctly returned error for invalid path: %v", err)
}

func TestCheckExecutables_Directory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := checkExecutables(t.TempDir(), logger); err == nil {
		t.Error("Expected error when path is a directory")
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	for _, key := range []string{"RENDER_DPI", "IMAGE_FORMAT", "IMAGE_QUALITY", "CONVERSION_MAX_ATTEMPTS", "CONVERSION_TIMEOUT", "PDF_PREFIX", "IMAGE_PREFIX", "EXCLUSIVE_ACTIVE"} {
		t.Setenv(key, "")
	}

	cfg := LoadServerConfig()

	if cfg.RenderDPI != 150 {
		t.Errorf("Expected default DPI 150, got %d", cfg.RenderDPI)
	}
	if cfg.ImageFormat != "png" {
		t.Errorf("Expected default format png, got %s", cfg.ImageFormat)
	}
	if cfg.ImageQuality != 95 {
		t.Errorf("Expected default quality 95, got %d", cfg.ImageQuality)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.ConversionTimeout != 300*time.Second {
		t.Errorf("Expected 300s timeout, got %s", cfg.ConversionTimeout)
	}
	if cfg.PDFPrefix != "pdfs" || cfg.ImagePrefix != "pdf-images" {
		t.Errorf("Unexpected prefixes %q %q", cfg.PDFPrefix, cfg.ImagePrefix)
	}
	if !cfg.ExclusiveActive {
		t.Error("Expected exclusive active policy to default on")
	}
	if !filepath.IsAbs(cfg.StoragePath) {
		t.Errorf("Expected absolute storage path, got %s", cfg.StoragePath)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("CONVERSION_TIMEOUT", "45")
	t.Setenv("IMAGE_FORMAT", "JPEG")
	t.Setenv("IMAGE_PREFIX", "/previews/")
	t.Setenv("EXCLUSIVE_ACTIVE", "false")
	t.Setenv("RENDER_DPI", "not-a-number")

	cfg := LoadServerConfig()

	if cfg.ConversionTimeout != 45*time.Second {
		t.Errorf("Expected bare seconds to parse, got %s", cfg.ConversionTimeout)
	}
	if cfg.ImageFormat != "jpeg" {
		t.Errorf("Expected lower-cased format, got %s", cfg.ImageFormat)
	}
	if cfg.ImagePrefix != "previews" {
		t.Errorf("Expected trimmed prefix, got %s", cfg.ImagePrefix)
	}
	if cfg.ExclusiveActive {
		t.Error("Expected exclusive active policy disabled")
	}
	if cfg.RenderDPI != 150 {
		t.Errorf("Expected invalid DPI to fall back to default, got %d", cfg.RenderDPI)
	}

	t.Setenv("CONVERSION_TIMEOUT", "2m")
	if got := LoadServerConfig().ConversionTimeout; got != 2*time.Minute {
		t.Errorf("Expected Go duration to parse, got %s", got)
	}
}
