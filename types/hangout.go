package types

import (
	"time"
)

const (
	// HangoutDuration is the fixed open window of every hangout, counted from its start time.
	HangoutDuration = 2 * time.Hour

	MinParticipants = 2
	MaxParticipants = 12
	MaxTitleLength  = 80
)

type ActivityType string

const (
	ActivityStudy  ActivityType = "Study"
	ActivityCoffee ActivityType = "Coffee"
	ActivityWalk   ActivityType = "Walk"
	ActivitySports ActivityType = "Sports"
	ActivityFood   ActivityType = "Food"
	ActivityOther  ActivityType = "Other"
)

var ActivityTypes = []ActivityType{ActivityStudy, ActivityCoffee, ActivityWalk, ActivitySports, ActivityFood, ActivityOther}

var activityEmojis = map[ActivityType]string{
	ActivityStudy:  "📚",
	ActivityCoffee: "☕",
	ActivityWalk:   "🚶",
	ActivitySports: "⚽",
	ActivityFood:   "🍔",
	ActivityOther:  "🎉",
}

func (a ActivityType) Valid() bool {
	_, ok := activityEmojis[a]
	return ok
}

func (a ActivityType) Emoji() string {
	if e, ok := activityEmojis[a]; ok {
		return e
	}
	return activityEmojis[ActivityOther]
}

// Hangout is a scheduled, capacity-limited group meetup. ExpiresAt is always StartTime + HangoutDuration.
type Hangout struct {
	Id              string         `json:"id" gorm:"primaryKey;size:36"`
	CreatorId       string         `json:"creator_id" gorm:"size:36;not null;index"`
	Creator         *Profile       `json:"creator,omitempty" gorm:"foreignKey:CreatorId"`
	ActivityType    ActivityType   `json:"activity_type" gorm:"size:16;not null"`
	Title           string         `json:"title" gorm:"size:80;not null"`
	LocationText    string         `json:"location_text" gorm:"not null"`
	StartTime       time.Time      `json:"start_time" gorm:"not null;index"`
	MaxParticipants int            `json:"max_participants" gorm:"not null"`
	CreatedAt       time.Time      `json:"created_at"`
	ExpiresAt       time.Time      `json:"expires_at" gorm:"not null;index"`
	Participants    []*Participant `json:"participants,omitempty" gorm:"foreignKey:HangoutId"`
}

// HangoutDraft is the user input for creating a hangout.
type HangoutDraft struct {
	ActivityType    ActivityType `json:"activity_type" validate:"required,oneof=Study Coffee Walk Sports Food Other"`
	Title           string       `json:"title" validate:"required,max=80"`
	LocationText    string       `json:"location_text" validate:"required"`
	StartTime       time.Time    `json:"start_time"`
	MaxParticipants int          `json:"max_participants" validate:"min=2,max=12"`
}

// HangoutQuery restricts hangout listings. Zero values mean "no restriction".
type HangoutQuery struct {
	ExpiresAfter  time.Time
	ExpiresBefore time.Time
	CreatorId     string
	MemberId      string // hangouts the user is an approved participant of
	ActivityType  ActivityType
	Limit         int
	// OrderBy is a column name with an optional " desc" suffix, defaults to "start_time".
	OrderBy string
}
