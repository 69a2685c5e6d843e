package pdfrenderer

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// BackendKind names a rasterization backend
type BackendKind string

const (
	BackendAuto        BackendKind = "auto"
	BackendPDFium      BackendKind = "pdfium"
	BackendFitz        BackendKind = "fitz"
	BackendGhostscript BackendKind = "ghostscript"
	BackendNone        BackendKind = "none"
)

// Backend is a located rasterization backend. Env holds the extra variables a child
// process needs; the current process environment is never modified.
type Backend struct {
	Kind       BackendKind
	Executable string // external helper, ghostscript only
	BinDir     string
	Env        []string
}

// CommandEnv is the environment for a child process using this backend
func (b *Backend) CommandEnv() []string {
	env := os.Environ()
	if len(b.Env) == 0 {
		return env
	}
	overrides := make(map[string]bool, len(b.Env))
	for _, kv := range b.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			overrides[strings.ToUpper(kv[:i])] = true
		}
	}
	result := make([]string, 0, len(env)+len(b.Env))
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i > 0 && overrides[strings.ToUpper(kv[:i])] {
			continue
		}
		result = append(result, kv)
	}
	return append(result, b.Env...)
}

func (b *Backend) String() string {
	if b.Executable != "" {
		return fmt.Sprintf("%s (%s)", b.Kind, b.Executable)
	}
	return string(b.Kind)
}

// LocatorOptions controls backend discovery. Zero values use the host defaults.
type LocatorOptions struct {
	Preferred       BackendKind
	GhostscriptPath string
	// GOOS overrides runtime.GOOS
	GOOS string
	// ProgramFiles are the Windows install roots searched for gs<version> directories
	ProgramFiles []string
	// UnixPaths are the fixed locations checked before a PATH lookup
	UnixPaths []string
	LookPath  func(file string) (string, error)
	// SkipAlias disables creation of the gs alias beside the executable
	SkipAlias bool
}

// Known Ghostscript releases, newest first
var (
	windowsGhostscriptVersions = []string{
		"10.06.0", "10.05.0", "10.04.0", "10.03.1", "10.03.0", "10.02.1",
		"10.02.0", "10.01.2", "10.01.1", "10.01.0", "10.00.0",
	}
	windowsX86GhostscriptVersions = []string{
		"10.06.0", "10.05.0", "10.04.0", "10.03.1", "10.03.0",
	}
	defaultUnixGhostscriptPaths = []string{
		"/usr/local/bin/gs", "/usr/bin/gs", "/opt/homebrew/bin/gs", "/opt/local/bin/gs",
	}
)

func (o LocatorOptions) withDefaults() LocatorOptions {
	if o.Preferred == "" {
		o.Preferred = BackendAuto
	}
	if o.GOOS == "" {
		o.GOOS = runtime.GOOS
	}
	if o.ProgramFiles == nil {
		o.ProgramFiles = []string{`C:\Program Files`, `C:\Program Files (x86)`}
	}
	if o.UnixPaths == nil {
		o.UnixPaths = defaultUnixGhostscriptPaths
	}
	if o.LookPath == nil {
		o.LookPath = exec.LookPath
	}
	return o
}

// Locate returns the preferred available backend
func Locate(opts LocatorOptions) (*Backend, bool) {
	candidates := Candidates(opts)
	if len(candidates) == 0 {
		return nil, false
	}
	return &candidates[0], true
}

// IsRasterizationAvailable reports whether any backend can be located
func IsRasterizationAvailable(opts LocatorOptions) bool {
	_, ok := Locate(opts)
	return ok
}

// Candidates lists every usable backend in preference order. pdfium and fitz are
// linked into the binary, ghostscript must be found on disk.
func Candidates(opts LocatorOptions) []Backend {
	opts = opts.withDefaults()
	var result []Backend

	switch opts.Preferred {
	case BackendNone:
		return nil
	case BackendPDFium, BackendFitz:
		return []Backend{{Kind: opts.Preferred}}
	case BackendGhostscript:
		if gs, ok := LocateGhostscript(opts); ok {
			result = append(result, *gs)
		}
		return result
	default:
		result = append(result, Backend{Kind: BackendPDFium}, Backend{Kind: BackendFitz})
		if gs, ok := LocateGhostscript(opts); ok {
			result = append(result, *gs)
		}
		return result
	}
}

// LocateGhostscript searches for a gs executable and prepares its alias and environment
func LocateGhostscript(opts LocatorOptions) (*Backend, bool) {
	opts = opts.withDefaults()

	executable := ""
	if opts.GhostscriptPath != "" {
		if isExecutableFile(opts.GhostscriptPath, opts.GOOS) {
			executable = opts.GhostscriptPath
		} else {
			logger().Warn("Configured Ghostscript not usable", "path", opts.GhostscriptPath)
		}
	}
	if executable == "" {
		if opts.GOOS == "windows" {
			executable = findWindowsGhostscript(opts)
		} else {
			executable = findUnixGhostscript(opts)
		}
	}
	if executable == "" {
		logger().Warn("Ghostscript not found, install it from https://www.ghostscript.com/")
		return nil, false
	}

	binDir := filepath.Dir(executable)
	if !opts.SkipAlias {
		EnsureAlias(executable, opts.GOOS)
	}

	backend := &Backend{
		Kind:       BackendGhostscript,
		Executable: executable,
		BinDir:     binDir,
		Env: []string{
			"MAGICK_GHOSTSCRIPT_PATH=" + executable,
			"PATH=" + appendPathList(os.Getenv("PATH"), binDir, opts.GOOS),
		},
	}
	logger().Debug("Ghostscript located", "executable", executable, "binDir", binDir)
	return backend, true
}

func findWindowsGhostscript(opts LocatorOptions) string {
	var binDirs []string
	for i, root := range opts.ProgramFiles {
		versions := windowsGhostscriptVersions
		if i > 0 {
			versions = windowsX86GhostscriptVersions
		}
		for _, v := range versions {
			binDirs = append(binDirs, filepath.Join(root, "gs", "gs"+v, "bin"))
		}
	}
	for _, dir := range binDirs {
		if exe := windowsExecutableIn(dir, opts.GOOS); exe != "" {
			return exe
		}
	}

	// unknown version, take the lexically last install under the first root
	if len(opts.ProgramFiles) == 0 {
		return ""
	}
	matches, err := filepath.Glob(filepath.Join(opts.ProgramFiles[0], "gs", "*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	var dirs []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			dirs = append(dirs, m)
		}
	}
	if len(dirs) == 0 {
		return ""
	}
	return windowsExecutableIn(filepath.Join(dirs[len(dirs)-1], "bin"), opts.GOOS)
}

func windowsExecutableIn(dir, goos string) string {
	for _, name := range []string{"gswin64c.exe", "gswin32c.exe"} {
		candidate := filepath.Join(dir, name)
		if isExecutableFile(candidate, goos) {
			return candidate
		}
	}
	return ""
}

func findUnixGhostscript(opts LocatorOptions) string {
	for _, candidate := range opts.UnixPaths {
		if isExecutableFile(candidate, opts.GOOS) {
			return candidate
		}
	}
	if found, err := opts.LookPath("gs"); err == nil && found != "" {
		return found
	}
	return ""
}

func isExecutableFile(path, goos string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if goos == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

func appendPathList(current, dir, goos string) string {
	sep := ":"
	if goos == "windows" {
		sep = ";"
	}
	if current == "" {
		return dir
	}
	for _, p := range strings.Split(current, sep) {
		if p == dir {
			return current
		}
	}
	return current + sep + dir
}

// EnsureAlias makes sure a plain gs (gs.exe on Windows) sits beside the executable so
// tools that only know the generic name find it. Failure is logged and ignored.
func EnsureAlias(executable, goos string) string {
	name := "gs"
	if goos == "windows" {
		name = "gs.exe"
	}
	alias := filepath.Join(filepath.Dir(executable), name)
	if filepath.Clean(alias) == filepath.Clean(executable) {
		return alias
	}
	if _, err := os.Stat(alias); err == nil {
		return alias
	}
	if err := copyFile(executable, alias); err != nil {
		logger().Warn("Could not create Ghostscript alias", "alias", alias, "error", err)
		return ""
	}
	logger().Info("Created Ghostscript alias", "alias", alias)
	return alias
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// ParseBackendKind validates a RENDER_BACKEND value
func ParseBackendKind(s string) (BackendKind, error) {
	switch kind := BackendKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendPDFium, BackendFitz, BackendGhostscript, BackendNone:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown render backend %q", s)
	}
}
