package entity

import (
	"time"
)

// Attachment records a file uploaded into a chat. The file itself lives in
// blob storage; URL is what participants send as message content.
type Attachment struct {
	ID          string    `json:"id" firestore:"id"`
	ChatID      string    `json:"chat_id" firestore:"chatId"`
	URL         string    `json:"url" firestore:"url"`
	UploadedBy  string    `json:"uploaded_by" firestore:"uploadedBy"`
	ContentType string    `json:"content_type" firestore:"contentType"`
	Size        int64     `json:"size" firestore:"size"`
	CreatedAt   time.Time `json:"created_at" firestore:"createdAt"`
}
