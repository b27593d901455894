package types

import "time"

type NotificationType string

const (
	NotificationJoinRequest NotificationType = "join_request"
	NotificationApproved    NotificationType = "approved"
	NotificationSystem      NotificationType = "system"
)

type Notification struct {
	Id        string           `json:"id" gorm:"primaryKey;size:36"`
	UserId    string           `json:"user_id" gorm:"size:36;not null;index"`
	Type      NotificationType `json:"type" gorm:"size:16;not null"`
	Title     string           `json:"title" gorm:"not null"`
	Message   string           `json:"message"`
	Link      string           `json:"link,omitempty"`
	HangoutId *string          `json:"hangout_id,omitempty" gorm:"size:36;index"`
	Read      bool             `json:"read" gorm:"not null;default:false"`
	CreatedAt time.Time        `json:"created_at" gorm:"index"`
}
