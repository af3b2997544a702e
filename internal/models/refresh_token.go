package models

import (
	"time"
)

// RefreshToken is a stored refresh token; rotation revokes the old one.
type RefreshToken struct {
	BaseModel
	UserID    string    `gorm:"size:36;index" json:"userId"`
	Token     string    `gorm:"type:text;not null" json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsRevoked bool      `gorm:"default:false" json:"isRevoked"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

// Active reports whether the token may still be exchanged at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.IsRevoked && now.Before(t.ExpiresAt)
}

// Revoke marks the token unusable from now on.
func (t *RefreshToken) Revoke(now time.Time) {
	t.IsRevoked = true
	if t.ExpiresAt.After(now) {
		t.ExpiresAt = now
	}
}
