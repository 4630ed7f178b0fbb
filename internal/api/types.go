package api

import (
	"time"

	"github.com/scribehq/scribe-backend/internal/blog"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AutosaveStatusDTO mirrors the controller status for the editor UI.
type AutosaveStatusDTO struct {
	State       string     `json:"state"`
	Saving      bool       `json:"saving"`
	LastSavedAt *time.Time `json:"lastSavedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// PostListDTO wraps a post listing.
type PostListDTO struct {
	Posts []blog.Post `json:"posts"`
	Total int         `json:"total"`
}

// DraftListDTO wraps the recoverable draft snapshots.
type DraftListDTO struct {
	Drafts []blog.DraftSnapshot `json:"drafts"`
	Total  int                  `json:"total"`
}

// ImageUploadDTO is the response to a successful image upload.
type ImageUploadDTO struct {
	Image blog.ImageAsset `json:"image"`
}

// DeletedDTO acknowledges an idempotent delete.
type DeletedDTO struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}
