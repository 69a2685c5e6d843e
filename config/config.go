package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseDbname   string
	DatabaseSslmode  string
	WebUIPass        bool
	ClientUsername   string
	ClientPassword   string `json:"-"`
	MaxUploadMB      int
	ExclusiveActive  bool // creating or activating an upload deactivates the owner's other uploads
	BackfillInterval int  // minutes, 0 disables the cron backfill
	StorageConfig
	ConversionConfig
}

// StorageConfig describes where uploads and derived images live
type StorageConfig struct {
	StorageDriver string // local or s3
	StoragePath   string // absolute root of the local public disk
	PDFPrefix     string
	ImagePrefix   string
	S3Endpoint    string
	S3Bucket      string
	S3AccessKey   string `json:"-"`
	S3SecretKey   string `json:"-"`
	S3UseSSL      bool
}

// ConversionConfig holds the rasterization and queue settings
type ConversionConfig struct {
	RenderBackend     string
	GhostscriptPath   string
	RenderDPI         int
	ImageFormat       string
	ImageQuality      int
	ConvertWorkers    int
	QueueWorkers      int
	QueueSize         int
	MaxAttempts       int
	ConversionTimeout time.Duration
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvDuration accepts either a Go duration ("5m") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	serverConfig := LoadServerConfig()

	fmt.Println("\n========================================")
	fmt.Println("   pdfcarousel - PDF preview service")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
	if serverConfig.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}
	fmt.Printf("Detailed logs: %s\n", getEnv("LOG_FILE", "pdfcarousel.log"))
	fmt.Println("Initializing...")

	logger.Info("Database configuration loaded", "type", serverConfig.DatabaseType)
	logger.Info("Storage configuration loaded",
		"driver", serverConfig.StorageDriver,
		"path", serverConfig.StoragePath,
		"pdfPrefix", serverConfig.PDFPrefix,
		"imagePrefix", serverConfig.ImagePrefix)
	logger.Info("Conversion configuration loaded",
		"backend", serverConfig.RenderBackend,
		"dpi", serverConfig.RenderDPI,
		"format", serverConfig.ImageFormat,
		"quality", serverConfig.ImageQuality,
		"maxAttempts", serverConfig.MaxAttempts,
		"timeout", serverConfig.ConversionTimeout)
	if serverConfig.ExclusiveActive {
		logger.Info("Exclusive active policy enabled, at most one active upload per owner")
	}

	return serverConfig, logger
}

// LoadServerConfig reads every setting from the environment without touching logging
func LoadServerConfig() ServerConfig {
	serverConfigLive := ServerConfig{}

	// Server configuration
	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")

	// Database configuration
	serverConfigLive.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	serverConfigLive.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfigLive.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfigLive.DatabaseUser = getEnv("DATABASE_USER", "pdfcarousel")
	serverConfigLive.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfigLive.DatabaseDbname = getEnv("DATABASE_NAME", "databases/pdfcarousel.sqlite")
	serverConfigLive.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "disable")

	// Authentication configuration
	serverConfigLive.WebUIPass = getEnvBool("WEB_UI_AUTH", false)
	serverConfigLive.ClientUsername = getEnv("WEB_UI_USER", "admin")
	serverConfigLive.ClientPassword = getEnv("WEB_UI_PASSWORD", "Password1")

	serverConfigLive.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", 10)
	serverConfigLive.ExclusiveActive = getEnvBool("EXCLUSIVE_ACTIVE", true)
	serverConfigLive.BackfillInterval = getEnvInt("BACKFILL_INTERVAL", 10)

	// Storage configuration
	storagePath := filepath.ToSlash(getEnv("STORAGE_PATH", "storage"))
	storagePathAbs, err := filepath.Abs(storagePath)
	if err != nil {
		if Logger != nil {
			Logger.Error("Failed creating absolute path for storage directory", "path", storagePath, "error", err)
		}
		storagePathAbs = storagePath
	}
	serverConfigLive.StorageDriver = strings.ToLower(getEnv("STORAGE_DRIVER", "local"))
	serverConfigLive.StoragePath = storagePathAbs
	serverConfigLive.PDFPrefix = strings.Trim(getEnv("PDF_PREFIX", "pdfs"), "/")
	serverConfigLive.ImagePrefix = strings.Trim(getEnv("IMAGE_PREFIX", "pdf-images"), "/")
	serverConfigLive.S3Endpoint = getEnv("S3_ENDPOINT", "localhost:9000")
	serverConfigLive.S3Bucket = getEnv("S3_BUCKET", "pdfcarousel")
	serverConfigLive.S3AccessKey = getEnv("S3_ACCESS_KEY", "")
	serverConfigLive.S3SecretKey = getEnv("S3_SECRET_KEY", "")
	serverConfigLive.S3UseSSL = getEnvBool("S3_USE_SSL", false)

	// Conversion configuration
	serverConfigLive.RenderBackend = strings.ToLower(getEnv("RENDER_BACKEND", "auto"))
	serverConfigLive.GhostscriptPath = getEnv("GHOSTSCRIPT_PATH", "")
	serverConfigLive.RenderDPI = getEnvInt("RENDER_DPI", 150)
	serverConfigLive.ImageFormat = strings.ToLower(getEnv("IMAGE_FORMAT", "png"))
	serverConfigLive.ImageQuality = getEnvInt("IMAGE_QUALITY", 95)
	serverConfigLive.ConvertWorkers = getEnvInt("CONVERT_WORKERS", 2)
	serverConfigLive.QueueWorkers = getEnvInt("QUEUE_WORKERS", 2)
	serverConfigLive.QueueSize = getEnvInt("QUEUE_SIZE", 100)
	serverConfigLive.MaxAttempts = getEnvInt("CONVERSION_MAX_ATTEMPTS", 3)
	serverConfigLive.ConversionTimeout = getEnvDuration("CONVERSION_TIMEOUT", 300*time.Second)

	return serverConfigLive
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "debug")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "file")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "pdfcarousel.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}

// checkExecutables verifies that an executable exists at the given path
func checkExecutables(executablePath string, logger *slog.Logger) error {
	info, err := os.Stat(executablePath)
	if err != nil {
		logger.Error("Cannot find executable at location specified", "path", executablePath)
		return err
	}
	if info.IsDir() {
		logger.Error("Executable path is a directory", "path", executablePath)
		return fmt.Errorf("%s is a directory", executablePath)
	}
	logger.Debug("Executable found", "path", executablePath)
	return nil
}

// ValidateGhostscriptPath logs whether an explicitly configured Ghostscript exists.
// A missing executable is not fatal, the locator falls back to its search list.
func ValidateGhostscriptPath(cfg ServerConfig, logger *slog.Logger) bool {
	if cfg.GhostscriptPath == "" {
		return false
	}
	if err := checkExecutables(cfg.GhostscriptPath, logger); err != nil {
		logger.Warn("Configured Ghostscript not usable, falling back to search", "path", cfg.GhostscriptPath, "error", err)
		return false
	}
	logger.Info("Ghostscript executable found and validated", "path", cfg.GhostscriptPath)
	return true
}
