package pdfrenderer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFakeExecutable(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
}

func noLookPath(string) (string, error) { return "", errors.New("not found") }

func TestLocateNone(t *testing.T) {
	backend, ok := Locate(LocatorOptions{Preferred: BackendNone})
	assert.False(t, ok)
	assert.Nil(t, backend)
	assert.False(t, IsRasterizationAvailable(LocatorOptions{Preferred: BackendNone}))
}

func TestLocateAutoPrefersBundled(t *testing.T) {
	backend, ok := Locate(LocatorOptions{UnixPaths: []string{}, LookPath: noLookPath, GOOS: "linux"})
	require.True(t, ok)
	assert.Equal(t, BackendPDFium, backend.Kind)

	candidates := Candidates(LocatorOptions{UnixPaths: []string{}, LookPath: noLookPath, GOOS: "linux"})
	require.Len(t, candidates, 2)
	assert.Equal(t, BackendFitz, candidates[1].Kind)
}

func TestLocateGhostscriptUnix(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "bin", "gs-10")
	writeFakeExecutable(t, exe)

	opts := LocatorOptions{
		Preferred: BackendGhostscript,
		GOOS:      "linux",
		UnixPaths: []string{filepath.Join(dir, "missing"), exe},
		LookPath:  noLookPath,
	}
	before := os.Getenv("PATH")
	magickBefore := os.Getenv("MAGICK_GHOSTSCRIPT_PATH")

	backend, ok := Locate(opts)
	require.True(t, ok)
	assert.Equal(t, BackendGhostscript, backend.Kind)
	assert.Equal(t, exe, backend.Executable)
	assert.Equal(t, filepath.Dir(exe), backend.BinDir)
	assert.Contains(t, backend.Env, "MAGICK_GHOSTSCRIPT_PATH="+exe)

	// locating must not touch the process environment
	assert.Equal(t, before, os.Getenv("PATH"))
	assert.Equal(t, magickBefore, os.Getenv("MAGICK_GHOSTSCRIPT_PATH"))

	// alias created beside the executable
	_, err := os.Stat(filepath.Join(dir, "bin", "gs"))
	assert.NoError(t, err)

	// child env carries the bin dir on PATH exactly once
	var pathEntries int
	for _, kv := range backend.CommandEnv() {
		if strings.HasPrefix(kv, "PATH=") {
			pathEntries++
			assert.Contains(t, kv, filepath.Dir(exe))
		}
	}
	assert.Equal(t, 1, pathEntries)

	// idempotent
	again, ok := Locate(opts)
	require.True(t, ok)
	assert.Equal(t, backend.Executable, again.Executable)
}

func TestLocateGhostscriptSkipsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "gs")
	require.NoError(t, os.WriteFile(plain, []byte("data"), 0o644))

	_, ok := LocateGhostscript(LocatorOptions{GOOS: "linux", UnixPaths: []string{plain, dir}, LookPath: noLookPath})
	assert.False(t, ok)
}

func TestLocateGhostscriptConfiguredPath(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "custom-gs")
	writeFakeExecutable(t, exe)

	backend, ok := LocateGhostscript(LocatorOptions{GOOS: "linux", GhostscriptPath: exe, UnixPaths: []string{}, LookPath: noLookPath, SkipAlias: true})
	require.True(t, ok)
	assert.Equal(t, exe, backend.Executable)
	_, err := os.Stat(filepath.Join(dir, "gs"))
	assert.True(t, os.IsNotExist(err), "alias must not be created when skipped")
}

func TestLocateGhostscriptLookPath(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "gs")
	writeFakeExecutable(t, exe)

	backend, ok := LocateGhostscript(LocatorOptions{
		GOOS:      "darwin",
		UnixPaths: []string{},
		LookPath:  func(string) (string, error) { return exe, nil },
	})
	require.True(t, ok)
	assert.Equal(t, exe, backend.Executable)
}

func TestLocateGhostscriptWindowsVersionOrder(t *testing.T) {
	programFiles := t.TempDir()
	programFilesX86 := t.TempDir()
	older := filepath.Join(programFiles, "gs", "gs10.02.0", "bin", "gswin64c.exe")
	newer32 := filepath.Join(programFiles, "gs", "gs10.05.0", "bin", "gswin32c.exe")
	x86 := filepath.Join(programFilesX86, "gs", "gs10.06.0", "bin", "gswin64c.exe")
	writeFakeExecutable(t, older)
	writeFakeExecutable(t, newer32)
	writeFakeExecutable(t, x86)

	backend, ok := LocateGhostscript(LocatorOptions{
		GOOS:         "windows",
		ProgramFiles: []string{programFiles, programFilesX86},
	})
	require.True(t, ok)
	// Program Files is searched before Program Files (x86), newest version first
	assert.Equal(t, newer32, backend.Executable)
	assert.Contains(t, backend.Env, "MAGICK_GHOSTSCRIPT_PATH="+newer32)

	_, err := os.Stat(filepath.Join(filepath.Dir(newer32), "gs.exe"))
	assert.NoError(t, err)
}

func TestLocateGhostscriptWindowsPrefers64Bit(t *testing.T) {
	programFiles := t.TempDir()
	bin := filepath.Join(programFiles, "gs", "gs10.04.0", "bin")
	writeFakeExecutable(t, filepath.Join(bin, "gswin32c.exe"))
	writeFakeExecutable(t, filepath.Join(bin, "gswin64c.exe"))

	backend, ok := LocateGhostscript(LocatorOptions{GOOS: "windows", ProgramFiles: []string{programFiles}, SkipAlias: true})
	require.True(t, ok)
	assert.Equal(t, filepath.Join(bin, "gswin64c.exe"), backend.Executable)
}

func TestLocateGhostscriptWindowsGlobFallback(t *testing.T) {
	programFiles := t.TempDir()
	writeFakeExecutable(t, filepath.Join(programFiles, "gs", "gs9.56.1", "bin", "gswin64c.exe"))
	latest := filepath.Join(programFiles, "gs", "gs9.99.0", "bin", "gswin64c.exe")
	writeFakeExecutable(t, latest)

	backend, ok := LocateGhostscript(LocatorOptions{GOOS: "windows", ProgramFiles: []string{programFiles}, SkipAlias: true})
	require.True(t, ok)
	assert.Equal(t, latest, backend.Executable)
}

func TestLocateGhostscriptWindowsMissing(t *testing.T) {
	_, ok := LocateGhostscript(LocatorOptions{GOOS: "windows", ProgramFiles: []string{t.TempDir()}})
	assert.False(t, ok)
}

func TestEnsureAliasFailureIsNotFatal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can write to read-only directories")
	}
	dir := t.TempDir()
	exe := filepath.Join(dir, "gswin64c.exe")
	writeFakeExecutable(t, exe)
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	assert.Equal(t, "", EnsureAlias(exe, "windows"))
}

func TestParseBackendKind(t *testing.T) {
	kind, err := ParseBackendKind("")
	require.NoError(t, err)
	assert.Equal(t, BackendAuto, kind)

	kind, err = ParseBackendKind("Ghostscript")
	require.NoError(t, err)
	assert.Equal(t, BackendGhostscript, kind)

	_, err = ParseBackendKind("imagick")
	assert.Error(t, err)
}

func TestAppendPathList(t *testing.T) {
	assert.Equal(t, "/a:/b", appendPathList("/a", "/b", "linux"))
	assert.Equal(t, "/a:/b", appendPathList("/a:/b", "/b", "linux"))
	assert.Equal(t, `C:\x;C:\gs`, appendPathList(`C:\x`, `C:\gs`, "windows"))
	assert.Equal(t, "/b", appendPathList("", "/b", "linux"))
}
