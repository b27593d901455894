package types

import "time"

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"

	ImageMessageContent = "Sent an image"
	MaxMessageLength    = 2000
)

// Message is an immutable chat line inside a hangout, visible to approved participants only.
type Message struct {
	Id          string      `json:"id" gorm:"primaryKey;size:36"`
	HangoutId   string      `json:"hangout_id" gorm:"size:36;not null;index"`
	UserId      string      `json:"user_id" gorm:"size:36;not null"`
	Content     string      `json:"content" gorm:"not null"`
	MessageType MessageType `json:"message_type" gorm:"size:8;not null;default:text"`
	MediaUrl    string      `json:"media_url,omitempty"`
	CreatedAt   time.Time   `json:"created_at" gorm:"index"`
	User        *Profile    `json:"user,omitempty" gorm:"foreignKey:UserId"`
}
