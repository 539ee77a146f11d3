package models

import "time"

// Crew membership statuses — append-only transitions, rows are never deleted
const (
	MembershipStatusPending = "pending"
	MembershipStatusActive  = "active"
	MembershipStatusLeft    = "left"
)

// Crew is a persistent running group; the creator becomes leader.
type Crew struct {
	ID           string `json:"id" gorm:"primaryKey"`
	Name         string `json:"name" gorm:"not null"`
	Slug         string `json:"slug" gorm:"uniqueIndex;not null"`
	Description  string `json:"description"`
	Region       string `json:"region" gorm:"index"`
	IsPrivate    bool   `json:"is_private" gorm:"default:false"`
	LeaderUserID string `json:"leader_user_id" gorm:"index;not null"`
	MaxMembers   int    `json:"max_members" gorm:"default:30"`
	EmblemURL    string `json:"emblem_url"`

	Timestamps

	// Relationships
	Memberships []CrewMembership `json:"memberships,omitempty" gorm:"foreignKey:CrewID"`
	Quests      []Quest          `json:"quests,omitempty" gorm:"foreignKey:CrewID"`

	// Calculated fields (not stored in DB)
	ActiveMemberCount int64 `json:"active_member_count,omitempty" gorm:"-"`
}

// CrewMembership tracks join/leave as status transitions, not deletion.
type CrewMembership struct {
	ID     string `json:"id" gorm:"primaryKey"`
	CrewID string `json:"crew_id" gorm:"not null;uniqueIndex:idx_crew_member"`
	UserID string `json:"user_id" gorm:"not null;uniqueIndex:idx_crew_member"`
	Status string `json:"status" gorm:"type:varchar(16);default:'pending';index"`

	JoinedAt *time.Time `json:"joined_at,omitempty"` // set when status becomes active
	LeftAt   *time.Time `json:"left_at,omitempty"`

	Timestamps
}
