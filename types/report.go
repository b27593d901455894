package types

import "time"

type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportReviewed  ReportStatus = "reviewed"
	ReportActioned  ReportStatus = "actioned"
	ReportDismissed ReportStatus = "dismissed"

	MaxReportDetailsLength = 500
)

// ReportReasons is the closed set of reasons a report can be filed for.
var ReportReasons = []string{
	"Harassment",
	"Spam",
	"Inappropriate content",
	"Fake profile",
	"Safety concern",
	"Other",
}

func ValidReportReason(reason string) bool {
	for _, r := range ReportReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// Report is a moderation flag against exactly one user or one hangout.
type Report struct {
	Id                string       `json:"id" gorm:"primaryKey;size:36"`
	ReporterId        string       `json:"reporter_id" gorm:"size:36;not null;index"`
	Reporter          *Profile     `json:"reporter,omitempty" gorm:"foreignKey:ReporterId"`
	ReportedUserId    *string      `json:"reported_user_id,omitempty" gorm:"size:36;index"`
	ReportedUser      *Profile     `json:"reported_user,omitempty" gorm:"foreignKey:ReportedUserId"`
	ReportedHangoutId *string      `json:"reported_hangout_id,omitempty" gorm:"size:36;index"`
	Reason            string       `json:"reason" gorm:"not null"`
	Details           string       `json:"details,omitempty"`
	Status            ReportStatus `json:"status" gorm:"size:16;not null;default:pending;index"`
	CreatedAt         time.Time    `json:"created_at" gorm:"index"`
	ResolvedAt        *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy        *string      `json:"resolved_by,omitempty" gorm:"size:36"`
}

// ReportTarget names what is reported. Exactly one of the fields must be set.
type ReportTarget struct {
	UserId    string `json:"user_id,omitempty"`
	HangoutId string `json:"hangout_id,omitempty"`
}
