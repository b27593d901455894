package types

import "time"

// Account holds the sign-in credentials of a profile. Accounts created through an OIDC provider have no password.
type Account struct {
	UserId       string    `json:"user_id" gorm:"primaryKey;size:36"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string    `json:"-"`
	Provider     string    `json:"provider,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PasswordReset is a single-use token mailed to the account owner.
type PasswordReset struct {
	Token     string     `json:"token" gorm:"primaryKey;size:36"`
	UserId    string     `json:"user_id" gorm:"size:36;not null;index"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}
