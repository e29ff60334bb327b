package models

import (
	"strings"
	"time"
)

// Platform identifies one of the external services a project is provisioned on.
type Platform string

const (
	PlatformAirtable Platform = "airtable" // project registry
	PlatformAsana    Platform = "asana"    // task tracking
	PlatformGoogle   Platform = "google"   // folders, documents and decks
)

var Platforms = []Platform{PlatformAirtable, PlatformAsana, PlatformGoogle}

func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", &ValidationError{Field: "platform", Message: "unknown platform " + s}
}

// PlatformCredential is a user's stored OAuth token for one platform.
type PlatformCredential struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"uniqueIndex:idx_user_platform;not null" json:"user_id"`
	Platform     Platform   `gorm:"uniqueIndex:idx_user_platform;size:32;not null" json:"platform"`
	AccountName  string     `gorm:"size:255" json:"account_name"`
	AccessToken  string     `gorm:"size:2048" json:"-"`
	RefreshToken string     `gorm:"size:2048" json:"-"`
	TokenType    string     `gorm:"size:32" json:"token_type"`
	Expiry       *time.Time `json:"expiry,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (PlatformCredential) TableName() string { return "platform_credentials" }

// MaskAccessToken returns masked access token for display
func (p *PlatformCredential) MaskAccessToken() string {
	if len(p.AccessToken) <= 8 {
		return "****"
	}
	return p.AccessToken[:4] + "****" + p.AccessToken[len(p.AccessToken)-4:]
}
