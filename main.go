package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	config "github.com/drummonds/pdfcarousel/config"
	database "github.com/drummonds/pdfcarousel/database"
	engine "github.com/drummonds/pdfcarousel/engine"
	"github.com/drummonds/pdfcarousel/engine/pdfrenderer"
	"github.com/drummonds/pdfcarousel/engine/storage"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	engine.Logger = Logger
	pdfrenderer.Logger = Logger
	storage.Logger = Logger
}

// newServerHandler wires storage, the conversion pipeline and the echo instance around db
func newServerHandler(ctx context.Context, serverConfig config.ServerConfig, db database.Repository) (*engine.ServerHandler, error) {
	store, err := storage.New(ctx, serverConfig)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	orchestrator, converter, err := engine.NewOrchestrator(serverConfig, db, store)
	if err != nil {
		return nil, fmt.Errorf("converter: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code == http.StatusNotFound && strings.HasPrefix(c.Request().URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}

	serverHandler := &engine.ServerHandler{
		DB:           db,
		Echo:         e,
		ServerConfig: serverConfig,
		Store:        store,
		Converter:    converter,
		Queue:        engine.NewConversionQueue(serverConfig, orchestrator, db),
	}
	registerRoutes(serverHandler)
	return serverHandler, nil
}

// registerRoutes adds middleware and every route to the handler's echo instance
func registerRoutes(serverHandler *engine.ServerHandler) {
	e := serverHandler.Echo
	serverConfig := serverHandler.ServerConfig

	e.Use(middleware.Recover())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool { return c.Path() == "/metrics" },
	}))
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))

	// Public routes
	e.GET("/api/carousel", serverHandler.GetCarousel)
	e.GET("/api/health", serverHandler.GetHealth)
	e.GET("/storage/*", serverHandler.ServeStorage)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Owner routes, behind basic auth when enabled
	api := e.Group("/api")
	if serverConfig.WebUIPass {
		api.Use(middleware.BasicAuth(basicAuthValidator(serverConfig)))
	}
	bodyLimit := fmt.Sprintf("%dM", serverConfig.MaxUploadMB+1)
	api.POST("/uploads", serverHandler.UploadDocument, middleware.BodyLimit(bodyLimit))
	api.GET("/uploads", serverHandler.ListUploads)
	api.GET("/uploads/:id", serverHandler.GetUpload)
	api.PATCH("/uploads/:id", serverHandler.UpdateUpload)
	api.DELETE("/uploads/:id", serverHandler.DeleteUpload)
	api.POST("/uploads/:id/convert", serverHandler.ConvertUpload)
	api.GET("/dashboard", serverHandler.GetDashboard)

	// Job tracking API routes
	api.GET("/jobs", serverHandler.GetRecentJobs)
	api.GET("/jobs/active", serverHandler.GetActiveJobs)
	api.GET("/jobs/:id", serverHandler.GetJob)
}

// @title pdfcarousel API
// @version 1.0
// @description Upload PDFs, convert them to preview images in the background and serve them as a carousel

// @BasePath /api
// @schemes http https

// @tag.name Uploads
// @tag.description Upload, edit, re-convert and delete PDFs

// @tag.name Carousel
// @tag.description Public list of active uploads

// @tag.name Jobs
// @tag.description Background conversion, backfill and cleanup jobs

// @tag.name Admin
// @tag.description Health and configuration

func main() {
	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	// Show info banner if using ephemeral database
	if serverConfig.DatabaseType == "ephemeral" {
		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("EPHEMERAL DATABASE MODE")
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("• Database will be destroyed on exit")
		fmt.Println("• Uploaded files stay in storage")
		fmt.Println(strings.Repeat("=", 50) + "\n")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	Logger.Info("Setting up database", "type", serverConfig.DatabaseType)
	db := database.NewRepository(serverConfig)
	defer db.Close()
	Logger.Info("Database setup complete")

	serverHandler, err := newServerHandler(ctx, serverConfig, db)
	if err != nil {
		Logger.Error("Failed to set up server", "error", err)
		os.Exit(1)
	}
	defer serverHandler.Converter.Close()

	if err := serverHandler.StartupChecks(ctx); err != nil {
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}
	Logger.Info("Startup checks complete")

	serverHandler.Queue.Start(ctx)
	defer serverHandler.Queue.Stop()
	schedules := serverHandler.InitializeSchedules(ctx) //initialize all the cron jobs
	defer schedules.Stop()

	go func() {
		<-ctx.Done()
		Logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := serverHandler.Echo.Shutdown(shutdownCtx); err != nil {
			Logger.Error("HTTP server shutdown failed", "error", err)
		}
	}()

	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}

	// Try to start server with automatic port increment if port is in use
	maxRetries := 5
	startPort := serverConfig.ListenAddrPort
	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		startErr := serverHandler.Echo.Start(addr)
		if startErr == nil || errors.Is(startErr, http.ErrServerClosed) {
			break
		}
		if !isAddressInUse(startErr) {
			Logger.Error("Failed to start server", "error", startErr)
			return
		}

		Logger.Warn("Port already in use, trying next port",
			"port", serverConfig.ListenAddrPort,
			"attempt", attempt+1,
			"max_attempts", maxRetries)
		portNum := 0
		fmt.Sscanf(serverConfig.ListenAddrPort, "%d", &portNum)
		serverConfig.ListenAddrPort = fmt.Sprintf("%d", portNum+1)

		if attempt == maxRetries-1 {
			Logger.Error("Failed to find available port after maximum retries",
				"start_port", startPort,
				"end_port", serverConfig.ListenAddrPort,
				"max_retries", maxRetries)
			return
		}
	}
	Logger.Info("Server stopped")
}

// basicAuthValidator accepts the configured client and records them as the owner
func basicAuthValidator(serverConfig config.ServerConfig) middleware.BasicAuthValidator {
	return func(username, password string, c echo.Context) (bool, error) {
		// both compared in constant time
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(serverConfig.ClientUsername)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(serverConfig.ClientPassword)) == 1
		if userOK && passOK {
			c.Set(engine.OwnerContextKey, username)
			return true, nil
		}
		return false, nil
	}
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "address already in use")
}
