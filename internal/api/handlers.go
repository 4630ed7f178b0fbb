package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/scribehq/scribe-backend/internal/autosave"
	"github.com/scribehq/scribe-backend/internal/blog"
	"github.com/scribehq/scribe-backend/internal/config"
	"github.com/scribehq/scribe-backend/internal/events"
	"github.com/scribehq/scribe-backend/internal/images"
	"github.com/scribehq/scribe-backend/internal/ws"
	"github.com/scribehq/scribe-backend/pkg/kv"
	"go.uber.org/zap"
)

// Handler carries the wired collaborators for all HTTP endpoints.
type Handler struct {
	posts      *blog.Store
	backup     *blog.DraftBackup
	autosave   *autosave.Controller
	images     *images.Processor
	wsHub      *ws.Hub
	sseHandler *ws.SSEHandler
	bus        *events.Bus
	kv         kv.Store
	config     *config.Config
	logger     *zap.SugaredLogger
}

func NewHandler(
	posts *blog.Store,
	backup *blog.DraftBackup,
	autosaveCtrl *autosave.Controller,
	imageProc *images.Processor,
	wsHub *ws.Hub,
	sseHandler *ws.SSEHandler,
	bus *events.Bus,
	kvStore kv.Store,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *Handler {
	return &Handler{
		posts:      posts,
		backup:     backup,
		autosave:   autosaveCtrl,
		images:     imageProc,
		wsHub:      wsHub,
		sseHandler: sseHandler,
		bus:        bus,
		kv:         kvStore,
		config:     cfg,
		logger:     logger,
	}
}

// Post endpoints

func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	filter := blog.ListFilter{
		Status: blog.PostStatus(r.URL.Query().Get("status")),
		Sort:   r.URL.Query().Get("sort"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, "INVALID_STATUS", "status must be draft, published, or scheduled")
		return
	}

	posts := h.posts.List(r.Context(), filter)
	h.writeJSON(w, http.StatusOK, PostListDTO{Posts: posts, Total: len(posts)})
}

func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var input blog.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}

	post, err := h.posts.Create(r.Context(), input)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.bus.Publish(events.New(events.TypePostCreated, post))
	h.writeJSON(w, http.StatusCreated, post)
}

func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	post, ok := h.posts.Get(r.Context(), id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "POST_NOT_FOUND", "no post with id "+id)
		return
	}
	h.writeJSON(w, http.StatusOK, post)
}

func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch blog.UpdatePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}

	post, err := h.posts.Update(r.Context(), id, patch)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.bus.Publish(events.New(events.TypePostUpdated, post))
	h.writeJSON(w, http.StatusOK, post)
}

func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.posts.Delete(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	if deleted {
		h.bus.Publish(events.New(events.TypePostDeleted, map[string]string{"id": id}))
	}
	h.writeJSON(w, http.StatusOK, DeletedDTO{ID: id, Deleted: deleted})
}

func (h *Handler) DuplicatePost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dup, err := h.posts.Duplicate(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.bus.Publish(events.New(events.TypePostCreated, dup))
	h.writeJSON(w, http.StatusCreated, dup)
}

func (h *Handler) ExportPosts(w http.ResponseWriter, r *http.Request) {
	data, err := h.posts.ExportAll(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "EXPORT_FAILED", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="posts-export.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) ImportPosts(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, h.config.Storage.LimitBytes+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read request body")
		return
	}

	result, err := h.posts.ImportAll(r.Context(), data)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) StorageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.posts.UsageStats(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "STATS_FAILED", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Autosave endpoints

// SchedulePostSave records the payload as the latest pending edit. The
// response is an acknowledgment; the commit happens after the debounce
// window on the controller goroutine.
func (h *Handler) SchedulePostSave(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var post blog.Post
	if err := json.NewDecoder(r.Body).Decode(&post); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be a valid post")
		return
	}
	if post.ID == "" {
		post.ID = id
	}
	if post.ID != id {
		h.writeError(w, http.StatusBadRequest, "ID_MISMATCH", "post id in body does not match URL")
		return
	}

	h.autosave.Schedule(&post)
	h.writeJSON(w, http.StatusAccepted, h.statusDTO())
}

func (h *Handler) AutosaveStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.statusDTO())
}

func (h *Handler) ClearAutosaveError(w http.ResponseWriter, r *http.Request) {
	h.autosave.ClearError()
	h.writeJSON(w, http.StatusOK, h.statusDTO())
}

func (h *Handler) statusDTO() AutosaveStatusDTO {
	status := h.autosave.Status()
	dto := AutosaveStatusDTO{
		State:       string(status.State),
		Saving:      status.Saving,
		LastSavedAt: status.LastSavedAt,
	}
	if status.Err != nil {
		dto.Error = status.Err.Error()
	}
	return dto
}

// Draft recovery endpoints

func (h *Handler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts := h.backup.List(r.Context())
	h.writeJSON(w, http.StatusOK, DraftListDTO{Drafts: drafts, Total: len(drafts)})
}

func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := h.backup.Read(r.Context(), id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "DRAFT_NOT_FOUND", "no draft snapshot for id "+id)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.backup.Delete(r.Context(), id)
	h.writeJSON(w, http.StatusOK, DeletedDTO{ID: id, Deleted: true})
}

// Image upload

func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.images.MaxBytes()); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "could not parse multipart form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "MISSING_FILE", `multipart field "image" is required`)
		return
	}
	defer file.Close()

	asset, err := h.images.Process(file, header.Filename, header.Header.Get("Content-Type"), header.Size)
	if err != nil {
		var verr *images.ValidationError
		if errors.As(err, &verr) {
			h.writeError(w, http.StatusBadRequest, "INVALID_IMAGE", verr.Reason)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "UPLOAD_FAILED", err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, ImageUploadDTO{Image: *asset})
}

// Live updates

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseHandler.HandleSSE(w, r)
}

// Health endpoints

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.kv.Ping(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// Utility methods

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.logger.Errorw("API error", "code", code, "message", message, "status", status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Code: code, Message: message})
}

// writeStoreError maps blog store failures onto HTTP statuses.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	var capErr *blog.CapacityError
	switch {
	case errors.Is(err, blog.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "POST_NOT_FOUND", err.Error())
	case errors.Is(err, blog.ErrInvalidImport):
		h.writeError(w, http.StatusBadRequest, "INVALID_IMPORT", err.Error())
	case errors.As(err, &capErr):
		h.writeError(w, http.StatusInsufficientStorage, "STORAGE_FULL", capErr.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
	}
}
