package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/drummonds/pdfcarousel/config"
	"github.com/drummonds/pdfcarousel/database"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) *ServerHandler {
	t.Helper()
	db := newTestRepository(t)
	store := newTestStore(t)
	converter := newTestConverter(store, &fakeRenderer{pages: 2})
	cfg := config.ServerConfig{ClientUsername: "alice", ExclusiveActive: true}
	cfg.PDFPrefix = "pdfs"
	cfg.ImagePrefix = "pdf-images"
	orchestrator := &Orchestrator{Store: db, Converter: converter, Placeholder: &PlaceholderGenerator{Store: store, ImagePrefix: "pdf-images"}, Artifacts: converter}
	return &ServerHandler{
		DB:           db,
		Echo:         echo.New(),
		ServerConfig: cfg,
		Store:        store,
		Converter:    converter,
		Queue:        newTestQueue(db, orchestrator),
	}
}

func serve(h *ServerHandler, method, target, body, owner string, handler echo.HandlerFunc, params ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := h.Echo.NewContext(req, rec)
	if len(params) > 0 {
		c.SetParamNames("id")
		c.SetParamValues(params...)
	}
	if owner != "" {
		c.Set(OwnerContextKey, owner)
	}
	handler(c)
	return rec
}

func TestUploadRoutesOwnership(t *testing.T) {
	h := newTestHandler(t)
	doc := putSource(t, h.DB, h.Store, "menu")

	rec := serve(h, http.MethodGet, "/api/uploads/"+doc.ID.String(), "", "alice", h.GetUpload, doc.ID.String())
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, http.MethodGet, "/api/uploads/"+doc.ID.String(), "", "mallory", h.GetUpload, doc.ID.String())
	assert.Equal(t, http.StatusNotFound, rec.Code, "other owners see nothing")

	rec = serve(h, http.MethodDelete, "/api/uploads/"+doc.ID.String(), "", "mallory", h.DeleteUpload, doc.ID.String())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, http.MethodGet, "/api/uploads/nope", "", "alice", h.GetUpload, "nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateUpload(t *testing.T) {
	h := newTestHandler(t)
	first := putSource(t, h.DB, h.Store, "first")
	second := putSource(t, h.DB, h.Store, "second")

	rec := serve(h, http.MethodPatch, "/", `{"title":"  Spring menu ","order":2,"is_active":true}`, "alice", h.UpdateUpload, first.ID.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Spring menu", view["title"])
	assert.EqualValues(t, 2, view["order"])

	// exclusive policy deactivates the owner's other upload
	other, _ := h.DB.GetDocument(second.ID.String())
	assert.False(t, other.IsActive)

	rec = serve(h, http.MethodPatch, "/", `{"title":"   "}`, "alice", h.UpdateUpload, first.ID.String())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(h, http.MethodPatch, "/", `{"order":-1}`, "alice", h.UpdateUpload, first.ID.String())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteUploadRemovesEverything(t *testing.T) {
	h := newTestHandler(t)
	doc := putSource(t, h.DB, h.Store, "menu")
	ctx := context.Background()

	status, err := h.Queue.RunNow(ctx, doc.ID.String())
	require.NoError(t, err)
	require.Equal(t, database.ConversionCompleted, status)
	converted, _ := h.DB.GetDocument(doc.ID.String())
	require.Len(t, converted.ImagePaths, 2)

	rec := serve(h, http.MethodDelete, "/", "", "alice", h.DeleteUpload, doc.ID.String())
	require.Equal(t, http.StatusNoContent, rec.Code)

	for _, p := range append(converted.ImagePaths, converted.SourcePath) {
		_, err := h.Store.Size(ctx, p)
		assert.Error(t, err, "%s should be gone", p)
	}
	_, err = h.DB.GetDocument(doc.ID.String())
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestConvertUploadConflict(t *testing.T) {
	h := newTestHandler(t)
	doc := putSource(t, h.DB, h.Store, "menu")

	rec := serve(h, http.MethodPost, "/", "", "alice", h.ConvertUpload, doc.ID.String())
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = serve(h, http.MethodPost, "/", "", "alice", h.ConvertUpload, doc.ID.String())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCarouselAndDashboard(t *testing.T) {
	h := newTestHandler(t)
	putSource(t, h.DB, h.Store, "a")
	putSource(t, h.DB, h.Store, "b")

	rec := serve(h, http.MethodGet, "/api/carousel", "", "", h.GetCarousel)
	require.Equal(t, http.StatusOK, rec.Code)
	var slides []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slides))
	assert.Len(t, slides, 2)
	assert.Equal(t, "pending", slides[0]["conversionStatus"])
	assert.Equal(t, []interface{}{}, slides[0]["imageUrls"])

	rec = serve(h, http.MethodGet, "/api/dashboard", "", "alice", h.GetDashboard)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats["totalUploads"])
	assert.Equal(t, 2, stats["activeUploads"])
}

func TestJobRoutes(t *testing.T) {
	h := newTestHandler(t)
	job, err := h.DB.CreateJob(database.JobTypeBackfill, "test")
	require.NoError(t, err)
	_, err = h.DB.CreateJob(database.JobTypeConversion, "test")
	require.NoError(t, err)

	rec := serve(h, http.MethodGet, "/api/jobs?type=backfill", "", "", h.GetRecentJobs)
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []database.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)

	rec = serve(h, http.MethodGet, "/", "", "", h.GetJob, job.ID.String())
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = serve(h, http.MethodGet, "/", "", "", h.GetJob, "not-a-ulid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
