package dto

import (
	"time"

	"github.com/noah-isme/lesson-plan-api/internal/models"
)

// AddVideoLinkRequest registers an external video reference on a plan.
type AddVideoLinkRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// DocumentResponse decorates a document with signed access URLs.
type DocumentResponse struct {
	models.Document
	DownloadURL string `json:"downloadUrl,omitempty"`
	PreviewURL  string `json:"previewUrl,omitempty"`
}

// PendingPreviewsResponse is the snapshot returned by the preview
// settlement endpoint.
type PendingPreviewsResponse struct {
	PlanID    string             `json:"planId"`
	Pending   int                `json:"pending"`
	Documents []DocumentResponse `json:"documents"`
	CheckedAt time.Time          `json:"checkedAt"`
}
