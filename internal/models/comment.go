package models

import "time"

// Comment is reviewer or author feedback attached to one document.
type Comment struct {
	ID         string     `db:"id" json:"id"`
	DocumentID string     `db:"document_id" json:"documentId"`
	AuthorID   string     `db:"author_id" json:"authorId"`
	AuthorName string     `db:"author_name" json:"authorName"`
	Text       string     `db:"text" json:"text"`
	Resolved   bool       `db:"resolved" json:"resolved"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt  *time.Time `db:"updated_at" json:"updatedAt,omitempty"`
}
