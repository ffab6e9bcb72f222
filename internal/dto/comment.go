package dto

// CreateCommentRequest adds a comment to a document.
type CreateCommentRequest struct {
	Text string `json:"text" binding:"required"`
}

// UpdateCommentRequest edits an existing comment's text.
type UpdateCommentRequest struct {
	Text string `json:"text" binding:"required"`
}
