package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	CustodyModeCustodial = "custodial" // platform manages keys
	CustodyModeSelf      = "self"      // user brings their own wallet
)

// User is the identity record. Identity fields (email, social pair, wallet)
// are fixed at signup; only profile metadata is mutable afterwards.
type User struct {
	ID             string `json:"id" gorm:"primaryKey"`
	Email          string `json:"email" gorm:"uniqueIndex;not null"`
	// Social identity is optional (wallet-only signups leave it NULL) so the
	// composite unique index only binds on accounts that actually carry one.
	SocialProvider *string `json:"social_provider,omitempty" gorm:"uniqueIndex:idx_social_identity"` // e.g., "kakao", "google"
	SocialSubject  *string `json:"social_subject,omitempty" gorm:"uniqueIndex:idx_social_identity"`  // provider-side user id
	WalletAddress  string `json:"wallet_address" gorm:"uniqueIndex"`
	CustodyMode    string `json:"custody_mode" gorm:"type:varchar(16);default:'custodial'"`

	// Mutable profile metadata
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url"`
	Region    string `json:"region"`
	Bio       string `json:"bio,omitempty"`

	IsAdmin bool `json:"is_admin" gorm:"default:false"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
