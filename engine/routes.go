package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/drummonds/pdfcarousel/config"
	"github.com/drummonds/pdfcarousel/database"
	"github.com/drummonds/pdfcarousel/engine/pdfrenderer"
	"github.com/drummonds/pdfcarousel/engine/storage"
	"github.com/drummonds/pdfcarousel/internal/build"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// OwnerContextKey is where the auth middleware stores the requesting user
const OwnerContextKey = "owner"

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	DB           database.Repository
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Store        storage.Store
	Converter    *Converter
	Queue        *ConversionQueue
}

// uploadView is a document plus the URLs a client needs to show it
type uploadView struct {
	database.Document
	SourceURL string   `json:"sourceUrl"`
	ImageURLs []string `json:"imageUrls"`
}

type uploadUpdateRequest struct {
	Title    *string `json:"title"`
	IsActive *bool   `json:"is_active"`
	Order    *int    `json:"order"`
}

func (serverHandler *ServerHandler) owner(c echo.Context) string {
	if owner, ok := c.Get(OwnerContextKey).(string); ok && owner != "" {
		return owner
	}
	return serverHandler.ServerConfig.ClientUsername
}

func (serverHandler *ServerHandler) view(doc database.Document) uploadView {
	if doc.ConversionStatus == "" {
		doc.ConversionStatus = database.ConversionPending
	}
	if doc.ImagePaths == nil {
		doc.ImagePaths = []string{}
	}
	urls := make([]string, 0, len(doc.ImagePaths))
	for _, p := range doc.ImagePaths {
		urls = append(urls, storageURL(p))
	}
	return uploadView{Document: doc, SourceURL: storageURL(doc.SourcePath), ImageURLs: urls}
}

func storageURL(key string) string {
	return "/storage/" + strings.TrimPrefix(key, "/")
}

// loadOwned fetches a document and checks it belongs to the requesting user
func (serverHandler *ServerHandler) loadOwned(c echo.Context) (*database.Document, error) {
	doc, err := database.FetchDocument(c.Param("id"), serverHandler.DB)
	if errors.Is(err, database.ErrNotFound) || (err == nil && doc.OwnerID != serverHandler.owner(c)) {
		return nil, c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Upload not found",
		})
	}
	if err != nil {
		return nil, c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to load upload",
		})
	}
	return doc, nil
}

// UploadDocument stores an uploaded PDF and queues its preview conversion
// @Summary Upload a PDF
// @Description Store a PDF for the carousel; preview images are generated in the background
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Param title formData string true "Display title"
// @Param pdf_file formData file true "PDF file"
// @Success 202 {object} uploadView "Upload stored, conversion pending"
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Failure 413 {object} map[string]interface{} "File too large"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /uploads [post]
func (serverHandler *ServerHandler) UploadDocument(c echo.Context) error {
	title := strings.TrimSpace(c.FormValue("title"))
	if title == "" || len(title) > 255 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "A title of at most 255 characters is required",
		})
	}

	fileHeader, err := c.FormFile("pdf_file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "pdf_file is required",
		})
	}
	maxBytes := int64(serverHandler.ServerConfig.MaxUploadMB) << 20
	if maxBytes > 0 && fileHeader.Size > maxBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]interface{}{
			"error": fmt.Sprintf("File exceeds %d MB", serverHandler.ServerConfig.MaxUploadMB),
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		Logger.Error("Unable to open uploaded file", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Unreadable upload",
		})
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		Logger.Error("Unable to read uploaded file", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Unreadable upload",
		})
	}

	if http.DetectContentType(data) != "application/pdf" || !bytes.HasPrefix(data, []byte("%PDF-")) {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Only PDF files are accepted",
		})
	}
	if _, err := pdfrenderer.PageCount(data); err != nil {
		Logger.Warn("Uploaded PDF failed validation", "filename", fileHeader.Filename, "error", err)
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "The PDF could not be read",
		})
	}

	ctx := c.Request().Context()
	sourcePath := path.Join(serverHandler.ServerConfig.PDFPrefix, ulid.Make().String()+".pdf")
	if err := serverHandler.Store.Put(ctx, sourcePath, data); err != nil {
		Logger.Error("Unable to store uploaded PDF", "path", sourcePath, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to store upload",
		})
	}

	doc, err := database.NewDocument(serverHandler.owner(c), title, path.Base(fileHeader.Filename), sourcePath)
	if err == nil {
		err = serverHandler.DB.CreateDocument(doc, serverHandler.ServerConfig.ExclusiveActive)
	}
	if err != nil {
		Logger.Error("Unable to record upload, removing stored PDF", "path", sourcePath, "error", err)
		if delErr := serverHandler.Store.Delete(context.Background(), sourcePath); delErr != nil {
			Logger.Warn("Unable to remove stored PDF", "path", sourcePath, "error", delErr)
		}
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to record upload",
		})
	}

	Logger.Info("PDF uploaded", "documentID", doc.ID.String(), "owner", doc.OwnerID, "bytes", len(data))
	serverHandler.Queue.EnqueueConversion(doc.ID.String())
	return c.JSON(http.StatusAccepted, serverHandler.view(*doc))
}

// ListUploads lists the requesting user's uploads
// @Summary List uploads
// @Tags Uploads
// @Produce json
// @Success 200 {array} uploadView "Uploads ordered by order, newest first"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /uploads [get]
func (serverHandler *ServerHandler) ListUploads(c echo.Context) error {
	docs, err := serverHandler.DB.ListDocumentsByOwner(serverHandler.owner(c))
	if err != nil {
		Logger.Error("Failed to list uploads", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to list uploads",
		})
	}
	return c.JSON(http.StatusOK, serverHandler.views(docs))
}

func (serverHandler *ServerHandler) views(docs []database.Document) []uploadView {
	out := make([]uploadView, 0, len(docs))
	for _, doc := range docs {
		out = append(out, serverHandler.view(doc))
	}
	return out
}

// GetUpload returns one upload, e.g. to poll its conversion status
// @Summary Get upload
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload ID (ULID)"
// @Success 200 {object} uploadView
// @Failure 404 {object} map[string]interface{} "Upload not found"
// @Router /uploads/{id} [get]
func (serverHandler *ServerHandler) GetUpload(c echo.Context) error {
	doc, err := serverHandler.loadOwned(c)
	if doc == nil {
		return err
	}
	return c.JSON(http.StatusOK, serverHandler.view(*doc))
}

// UpdateUpload edits title, active flag or order
// @Summary Update upload
// @Tags Uploads
// @Accept json
// @Produce json
// @Param id path string true "Upload ID (ULID)"
// @Success 200 {object} uploadView
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Failure 404 {object} map[string]interface{} "Upload not found"
// @Router /uploads/{id} [patch]
func (serverHandler *ServerHandler) UpdateUpload(c echo.Context) error {
	doc, err := serverHandler.loadOwned(c)
	if doc == nil {
		return err
	}

	var req uploadUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid request body",
		})
	}
	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		if trimmed == "" || len(trimmed) > 255 {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "A title of at most 255 characters is required",
			})
		}
		req.Title = &trimmed
	}
	if req.Order != nil && *req.Order < 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "order must not be negative",
		})
	}

	updated, err := serverHandler.DB.UpdateMetadata(doc.ID.String(), database.MetadataUpdate{
		Title:           req.Title,
		IsActive:        req.IsActive,
		Order:           req.Order,
		ExclusiveActive: serverHandler.ServerConfig.ExclusiveActive,
	})
	if err != nil {
		Logger.Error("Failed to update upload", "documentID", doc.ID.String(), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to update upload",
		})
	}
	return c.JSON(http.StatusOK, serverHandler.view(*updated))
}

// DeleteUpload removes the preview images, the stored PDF and the record
// @Summary Delete upload
// @Tags Uploads
// @Param id path string true "Upload ID (ULID)"
// @Success 204 "Deleted"
// @Failure 404 {object} map[string]interface{} "Upload not found"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /uploads/{id} [delete]
func (serverHandler *ServerHandler) DeleteUpload(c echo.Context) error {
	doc, err := serverHandler.loadOwned(c)
	if doc == nil {
		return err
	}
	ctx := c.Request().Context()

	if err := serverHandler.Converter.DeleteArtifacts(ctx, doc.ImagePaths); err != nil {
		Logger.Error("Failed to delete preview images", "documentID", doc.ID.String(), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to delete preview images",
		})
	}
	if err := serverHandler.Store.Delete(ctx, doc.SourcePath); err != nil {
		Logger.Error("Failed to delete stored PDF", "documentID", doc.ID.String(), "path", doc.SourcePath, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to delete stored PDF",
		})
	}
	if err := serverHandler.DB.DeleteDocument(doc.ID.String()); err != nil && !errors.Is(err, database.ErrNotFound) {
		Logger.Error("Failed to delete upload record", "documentID", doc.ID.String(), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to delete upload",
		})
	}

	Logger.Info("Upload deleted", "documentID", doc.ID.String(), "images", len(doc.ImagePaths))
	return c.NoContent(http.StatusNoContent)
}

// ConvertUpload queues another conversion attempt with a fresh batch id
// @Summary Re-run conversion
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload ID (ULID)"
// @Success 202 {object} map[string]interface{} "Conversion queued"
// @Failure 404 {object} map[string]interface{} "Upload not found"
// @Failure 409 {object} map[string]interface{} "Conversion already queued"
// @Router /uploads/{id}/convert [post]
func (serverHandler *ServerHandler) ConvertUpload(c echo.Context) error {
	doc, err := serverHandler.loadOwned(c)
	if doc == nil {
		return err
	}
	id := doc.ID.String()
	if serverHandler.Queue.Pending(id) {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": "Conversion already queued",
		})
	}
	serverHandler.Queue.EnqueueConversion(id)
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Conversion queued",
		"id":      id,
	})
}

// GetCarousel lists the active uploads of every owner for the public carousel
// @Summary Carousel slides
// @Tags Carousel
// @Produce json
// @Success 200 {array} uploadView
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /carousel [get]
func (serverHandler *ServerHandler) GetCarousel(c echo.Context) error {
	docs, err := serverHandler.DB.ListActiveDocuments()
	if err != nil {
		Logger.Error("Failed to list carousel documents", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to load carousel",
		})
	}
	return c.JSON(http.StatusOK, serverHandler.views(docs))
}

// GetDashboard returns upload counts for the requesting user
// @Summary Dashboard statistics
// @Tags Uploads
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /dashboard [get]
func (serverHandler *ServerHandler) GetDashboard(c echo.Context) error {
	owner := serverHandler.owner(c)
	total, err := serverHandler.DB.CountDocuments(owner, false)
	if err == nil {
		var active int
		active, err = serverHandler.DB.CountDocuments(owner, true)
		if err == nil {
			return c.JSON(http.StatusOK, map[string]interface{}{
				"totalUploads":  total,
				"activeUploads": active,
			})
		}
	}
	Logger.Error("Failed to count uploads", "owner", owner, "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": "Failed to load dashboard",
	})
}

// ServeStorage streams a stored PDF or preview image
// @Summary Stored file
// @Tags Storage
// @Param key path string true "Storage key, e.g. pdf-images/x_page0.png"
// @Success 200 {file} file
// @Failure 404 {object} map[string]interface{} "Not found"
// @Router /storage/{key} [get]
func (serverHandler *ServerHandler) ServeStorage(c echo.Context) error {
	key, err := storage.CleanKey(c.Param("*"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Not found",
		})
	}
	data, err := serverHandler.Store.Get(c.Request().Context(), key)
	if errors.Is(err, storage.ErrNotExist) {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Not found",
		})
	}
	if err != nil {
		Logger.Error("Failed to read stored file", "key", key, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to read file",
		})
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=86400")
	return c.Blob(http.StatusOK, storage.ContentType(key), data)
}

// GetHealth reports version, database and rasterization state
// @Summary Health and configuration
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (serverHandler *ServerHandler) GetHealth(c echo.Context) error {
	backend := "none"
	available := false
	if serverHandler.Converter != nil && serverHandler.Converter.IsRasterizationAvailable() {
		available = true
		backend = serverHandler.Converter.Backend().String()
	}
	active, _ := serverHandler.DB.GetActiveJobs()

	return c.JSON(http.StatusOK, map[string]interface{}{
		"version":                build.Version,
		"databaseType":           serverHandler.ServerConfig.DatabaseType,
		"storageDriver":          serverHandler.ServerConfig.StorageDriver,
		"rasterizationAvailable": available,
		"rasterizationBackend":   backend,
		"imageFormat":            serverHandler.ServerConfig.ImageFormat,
		"activeJobs":             len(active),
		"time":                   time.Now().UTC(),
	})
}
