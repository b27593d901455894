package types

import "time"

type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantApproved ParticipantStatus = "approved"
	ParticipantRejected ParticipantStatus = "rejected"
)

func (s ParticipantStatus) Valid() bool {
	switch s {
	case ParticipantPending, ParticipantApproved, ParticipantRejected:
		return true
	}
	return false
}

// Participant is one user's membership record for one hangout. (HangoutId, UserId) is unique.
type Participant struct {
	Id        string            `json:"id" gorm:"primaryKey;size:36"`
	HangoutId string            `json:"hangout_id" gorm:"size:36;not null;uniqueIndex:idx_participants_hangout_user"`
	UserId    string            `json:"user_id" gorm:"size:36;not null;uniqueIndex:idx_participants_hangout_user;index:idx_participants_user"`
	Status    ParticipantStatus `json:"status" gorm:"size:16;not null;index"`
	JoinedAt  time.Time         `json:"joined_at"`
	User      *Profile          `json:"user,omitempty" gorm:"foreignKey:UserId"`
}
