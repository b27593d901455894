package types

import (
	"strings"
	"time"
)

type Role string

const (
	RoleGeneral Role = "general"
	RoleAdmin   Role = "admin"
)

// Profile is the public user record. The gamification counters (StreakDays, AddaCount, HostedCount) are maintained
// by the store on participation events and are never written by client code.
type Profile struct {
	Id              string     `json:"id" gorm:"primaryKey;size:36"`
	Name            string     `json:"name" gorm:"not null"`
	AvatarUrl       string     `json:"avatar_url,omitempty"`
	Occupation      string     `json:"occupation,omitempty"` // "Department · Year"
	Location        string     `json:"location,omitempty"`   // university
	Bio             string     `json:"bio,omitempty"`
	Interests       Interests  `json:"interests"`
	Role            Role       `json:"role" gorm:"size:16;not null;default:general"`
	StreakDays      int        `json:"streak_days"`
	AddaCount       int        `json:"adda_count"`
	HostedCount     int        `json:"hosted_count"`
	LastHangoutDate *time.Time `json:"last_hangout_date,omitempty"`
	IsBanned        bool       `json:"is_banned" gorm:"not null;default:false"`
	BanReason       string     `json:"ban_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// NeedsOnboarding reports whether the profile lacks the department/university details every member is asked for.
func (p *Profile) NeedsOnboarding() bool {
	if p == nil {
		return true
	}
	occupation := strings.TrimSpace(p.Occupation)
	return occupation == "" || occupation == "·" || strings.TrimSpace(p.Location) == ""
}

func (p *Profile) Tier() RepTier {
	if p == nil {
		return TierFor(0)
	}
	return TierFor(p.AddaCount)
}

// ProfileUpdate carries the user-editable profile fields. Nil fields are left untouched.
type ProfileUpdate struct {
	Name       *string    `json:"name,omitempty" validate:"omitempty,min=1,max=60"`
	AvatarUrl  *string    `json:"avatar_url,omitempty"`
	Department *string    `json:"department,omitempty"`
	Year       *string    `json:"year,omitempty"`
	Location   *string    `json:"location,omitempty"`
	Bio        *string    `json:"bio,omitempty" validate:"omitempty,max=500"`
	Interests  *Interests `json:"interests,omitempty"`
}

// RepTier is the display label derived from a user's approved-participation count.
type RepTier struct {
	Name  string `json:"name"`
	Next  string `json:"next"`
	Emoji string `json:"emoji"`
}

func TierFor(addaCount int) RepTier {
	switch {
	case addaCount >= 25:
		return RepTier{Name: "Campus Legend", Emoji: "🏆"}
	case addaCount >= 10:
		return RepTier{Name: "Connector", Next: "Campus Legend at 25", Emoji: "🔗"}
	case addaCount >= 3:
		return RepTier{Name: "Regular", Next: "Connector at 10", Emoji: "⭐"}
	}
	return RepTier{Name: "Starter", Next: "Regular at 3 addas", Emoji: "🌱"}
}
