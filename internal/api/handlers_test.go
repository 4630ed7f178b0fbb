package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scribehq/scribe-backend/internal/autosave"
	"github.com/scribehq/scribe-backend/internal/blog"
	"github.com/scribehq/scribe-backend/internal/config"
	"github.com/scribehq/scribe-backend/internal/events"
	"github.com/scribehq/scribe-backend/internal/images"
	"github.com/scribehq/scribe-backend/internal/ws"
	"github.com/scribehq/scribe-backend/pkg/kv/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	router http.Handler
	posts  *blog.Store
	backup *blog.DraftBackup
	ctrl   *autosave.Controller
	bus    *events.Bus
}

func newTestHandler(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop().Sugar()
	kvStore := memory.NewStore()
	bus := events.NewBus()

	cfg := &config.Config{
		Env:      "test",
		HTTPAddr: ":0",
		Storage:  config.StorageConfig{Backend: "memory", LimitBytes: blog.DefaultCapacityBytes},
		Autosave: config.AutosaveConfig{Debounce: 20 * time.Millisecond, BaseDelay: 10 * time.Millisecond, MaxAttempts: 3},
		Uploads:  config.UploadConfig{Dir: t.TempDir(), MaxBytes: images.DefaultMaxUploadBytes},
		Security: config.SecurityConfig{RateLimitRPM: 6000, CORSAllowedOrigins: []string{"*"}},
	}

	posts := blog.NewStore(kvStore, logger, nil, cfg.Storage.LimitBytes)
	backup := blog.NewDraftBackup(kvStore, logger, nil)

	save := func(ctx context.Context, post *blog.Post) error {
		return posts.Save(ctx, post)
	}

	ctrl := autosave.NewController(autosave.Config{
		Debounce:    cfg.Autosave.Debounce,
		BaseDelay:   cfg.Autosave.BaseDelay,
		MaxAttempts: cfg.Autosave.MaxAttempts,
	}, save, backup, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Start(ctx)
	t.Cleanup(func() {
		cancel()
		ctrl.Stop()
	})

	hub := ws.NewHub(bus, cfg.Security.CORSAllowedOrigins, logger, nil)
	go hub.Run(ctx)
	sse := ws.NewSSEHandler(bus, cfg.Security.CORSAllowedOrigins, logger)

	proc := images.NewProcessor(cfg.Uploads.Dir, "/uploads", cfg.Uploads.MaxBytes, logger)

	h := NewHandler(posts, backup, ctrl, proc, hub, sse, bus, kvStore, cfg, logger)
	m := NewMiddleware(logger, nil)
	router := h.Routes(m, http.NotFoundHandler(), cfg.Uploads.Dir)

	return &testEnv{router: router, posts: posts, backup: backup, ctrl: ctrl, bus: bus}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestPostLifecycle(t *testing.T) {
	env := newTestHandler(t)

	// Create
	rec := doJSON(t, env.router, http.MethodPost, "/v1/posts", blog.CreateInput{Title: "Hello World"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[blog.Post](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "hello-world", created.Slug)
	assert.Equal(t, blog.StatusDraft, created.Status)

	// Get
	rec = doJSON(t, env.router, http.MethodGet, "/v1/posts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decodeBody[blog.Post](t, rec)
	assert.Equal(t, created.ID, fetched.ID)

	// Update
	newTitle := "Hello Again"
	rec = doJSON(t, env.router, http.MethodPatch, "/v1/posts/"+created.ID, blog.UpdatePatch{Title: &newTitle})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[blog.Post](t, rec)
	assert.Equal(t, "hello-again", updated.Slug)

	// List
	rec = doJSON(t, env.router, http.MethodGet, "/v1/posts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[PostListDTO](t, rec)
	assert.Equal(t, 1, list.Total)

	// Delete twice; both succeed, second reports nothing removed
	rec = doJSON(t, env.router, http.MethodDelete, "/v1/posts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[DeletedDTO](t, rec).Deleted)

	rec = doJSON(t, env.router, http.MethodDelete, "/v1/posts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[DeletedDTO](t, rec).Deleted)
}

func TestGetPost_NotFound(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.router, http.MethodGet, "/v1/posts/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "POST_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
}

func TestListPosts_RejectsUnknownStatus(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.router, http.MethodGet, "/v1/posts?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDuplicatePost(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.router, http.MethodPost, "/v1/posts", blog.CreateInput{Title: "Original"})
	created := decodeBody[blog.Post](t, rec)

	rec = doJSON(t, env.router, http.MethodPost, "/v1/posts/"+created.ID+"/duplicate", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	dup := decodeBody[blog.Post](t, rec)

	assert.NotEqual(t, created.ID, dup.ID)
	assert.Equal(t, "Original (Copy)", dup.Title)
	assert.Equal(t, blog.StatusDraft, dup.Status)
}

func TestExportImportRoundTrip(t *testing.T) {
	env := newTestHandler(t)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, env.router, http.MethodPost, "/v1/posts", blog.CreateInput{Title: fmt.Sprintf("Post %d", i)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, env.router, http.MethodGet, "/v1/posts/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "posts-export.json")
	exported := rec.Body.Bytes()

	// Importing the same collection again skips every existing id.
	req := httptest.NewRequest(http.MethodPost, "/v1/posts/import", bytes.NewReader(exported))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody[blog.ImportResult](t, rec)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 3, result.Skipped)
}

func TestImportPosts_RejectsMalformedPayload(t *testing.T) {
	env := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/posts/import", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INVALID_IMPORT", body.Code)
}

func TestStorageStats(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.router, http.MethodPost, "/v1/posts", blog.CreateInput{Title: "Sized"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, env.router, http.MethodGet, "/v1/storage/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decodeBody[blog.UsageStats](t, rec)
	assert.Equal(t, int64(blog.DefaultCapacityBytes), stats.ByteLimit)
	assert.Greater(t, stats.BytesUsed, int64(0))
	assert.Equal(t, 1, stats.RecordCount)
}

func TestAutosaveFlow(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.router, http.MethodPost, "/v1/posts", blog.CreateInput{Title: "Draft"})
	created := decodeBody[blog.Post](t, rec)

	edited := created
	edited.Title = "Draft v2"
	rec = doJSON(t, env.router, http.MethodPut, "/v1/posts/"+created.ID+"/autosave", edited)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Wait for the debounced commit to land.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec = doJSON(t, env.router, http.MethodGet, "/v1/autosave/status", nil)
		status := decodeBody[AutosaveStatusDTO](t, rec)
		if status.LastSavedAt != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = doJSON(t, env.router, http.MethodGet, "/v1/posts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decodeBody[blog.Post](t, rec)
	assert.Equal(t, "Draft v2", saved.Title)

	// The backup snapshot from the commit is recoverable.
	rec = doJSON(t, env.router, http.MethodGet, "/v1/drafts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAutosave_IDMismatchRejected(t *testing.T) {
	env := newTestHandler(t)

	post := blog.Post{ID: "other"}
	rec := doJSON(t, env.router, http.MethodPut, "/v1/posts/someid/autosave", post)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ID_MISMATCH", decodeBody[ErrorResponse](t, rec).Code)
}

func TestDraftEndpoints(t *testing.T) {
	env := newTestHandler(t)

	now := time.Now().UTC()
	post := &blog.Post{ID: "d1", Title: "Recover me", Status: blog.StatusDraft, CreatedAt: now, UpdatedAt: now}
	env.backup.Write(context.Background(), post)

	rec := doJSON(t, env.router, http.MethodGet, "/v1/drafts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[DraftListDTO](t, rec)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "d1", list.Drafts[0].Post.ID)

	rec = doJSON(t, env.router, http.MethodDelete, "/v1/drafts/d1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, env.router, http.MethodGet, "/v1/drafts/d1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadImage_RejectsNonImage(t *testing.T) {
	env := newTestHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "malware.exe")
	require.NoError(t, err)
	part.Write([]byte("not an image"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_IMAGE", decodeBody[ErrorResponse](t, rec).Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = doJSON(t, env.router, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, env.router, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCompressesJSONResponses(t *testing.T) {
	env := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/posts", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	defer gz.Close()

	var list PostListDTO
	require.NoError(t, json.NewDecoder(gz).Decode(&list))
	assert.Equal(t, 0, list.Total)
}
