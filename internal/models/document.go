package models

import "time"

// DocumentKind distinguishes uploaded files from external video references.
type DocumentKind string

const (
	DocumentKindFile      DocumentKind = "FILE"
	DocumentKindVideoLink DocumentKind = "VIDEO_LINK"
)

// PreviewStatus tracks the asynchronous conversion of an uploaded file.
// It is only meaningful for convertible file kinds; directly renderable
// formats (PDF, images) and video links never enter the pipeline.
type PreviewStatus string

const (
	PreviewStatusPending PreviewStatus = "PENDING"
	PreviewStatusReady   PreviewStatus = "READY"
	PreviewStatusError   PreviewStatus = "ERROR"
)

// Document is a single attachment owned by exactly one plan.
type Document struct {
	ID            string         `db:"id" json:"id"`
	PlanID        string         `db:"plan_id" json:"planId"`
	Kind          DocumentKind   `db:"kind" json:"kind"`
	FileName      string         `db:"file_name" json:"fileName,omitempty"`
	FilePath      string         `db:"file_path" json:"-"`
	MimeType      string         `db:"mime_type" json:"mimeType,omitempty"`
	SizeBytes     int64          `db:"size_bytes" json:"sizeBytes,omitempty"`
	ExternalURL   string         `db:"external_url" json:"externalUrl,omitempty"`
	PreviewStatus *PreviewStatus `db:"preview_status" json:"previewStatus,omitempty"`
	PreviewPath   *string        `db:"preview_path" json:"-"`
	PreviewError  *string        `db:"preview_error" json:"previewError,omitempty"`
	UploadedBy    string         `db:"uploaded_by" json:"uploadedBy"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`

	Comments []Comment `db:"-" json:"comments,omitempty"`
}

// PreviewPending reports whether the document still awaits conversion.
func (d *Document) PreviewPending() bool {
	return d.PreviewStatus != nil && *d.PreviewStatus == PreviewStatusPending
}
