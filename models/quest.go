package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quest lifecycle: draft → open → active → completed | cancelled
const (
	QuestStatusDraft     = "draft"
	QuestStatusOpen      = "open"
	QuestStatusActive    = "active"
	QuestStatusCompleted = "completed"
	QuestStatusCancelled = "cancelled"
)

// Settlement split is carried in basis points (1/10000) so the payout math
// never touches floats. The three rates must sum to BpsDenominator and the
// protocol fee is hard-capped at MaxProtocolFeeBps.
const (
	BpsDenominator    int64 = 10000
	MaxProtocolFeeBps int64 = 2000

	DefaultSuccessBps     int64 = 8000
	DefaultDaoBps         int64 = 1000
	DefaultProtocolFeeBps int64 = 1000
)

// Quest is a time-boxed, staked group running challenge owned by a crew.
type Quest struct {
	ID     string `json:"id" gorm:"primaryKey"`
	CrewID string `json:"crew_id" gorm:"not null;index"`

	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description"`

	// Completion target
	DistanceKm        decimal.Decimal `json:"distance_km" gorm:"type:decimal(10,3);not null"`
	TimesPerWeek      int             `json:"times_per_week" gorm:"not null"`
	SessionDistanceKm decimal.Decimal `json:"session_distance_km" gorm:"type:decimal(10,3)"` // min distance for a run to count

	StartAt time.Time `json:"start_at" gorm:"not null"`
	EndAt   time.Time `json:"end_at" gorm:"not null"`

	// Staking terms
	StakeAmount decimal.Decimal `json:"stake_amount" gorm:"type:decimal(32,8);not null"`
	StakeToken  string          `json:"stake_token" gorm:"type:varchar(16);not null"`
	MaxSlots    int             `json:"max_slots" gorm:"not null"`

	// Fixed three-way settlement split, basis points; sum must be 10000
	SuccessBps     int64 `json:"success_bps" gorm:"default:8000"`
	DaoBps         int64 `json:"dao_bps" gorm:"default:1000"`
	ProtocolFeeBps int64 `json:"protocol_fee_bps" gorm:"default:1000"`

	Status           string `json:"status" gorm:"type:varchar(16);default:'open';index"`
	ParticipantCount int    `json:"participant_count" gorm:"default:0"`

	CoverPhotoURL string     `json:"cover_photo_url"`
	CreatedBy     string     `json:"created_by" gorm:"index;not null"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`

	Timestamps

	// Relationships
	Crew           Crew            `json:"crew,omitempty" gorm:"foreignKey:CrewID"`
	Participations []Participation `json:"participations,omitempty" gorm:"foreignKey:QuestID"`

	// Calculated fields (not stored in DB)
	AvailableSlots   int64 `json:"available_slots,omitempty" gorm:"-"`
	TotalStakeLocked decimal.Decimal `json:"total_stake_locked,omitempty" gorm:"-"`
}

// RequiredSessions is the completion bar for the quest window: the number
// of whole weeks (rounded up) times the weekly run frequency.
func (q *Quest) RequiredSessions() int {
	days := int(q.EndAt.Sub(q.StartAt).Hours() / 24)
	weeks := (days + 6) / 7
	if weeks < 1 {
		weeks = 1
	}
	return weeks * q.TimesPerWeek
}

// SupportedToken is a static allow-list entry for stake currencies.
type SupportedToken struct {
	Code            string `json:"code" gorm:"primaryKey;type:varchar(16)"`
	Name            string `json:"name" gorm:"not null"`
	Decimals        int32  `json:"decimals" gorm:"not null"`
	TreasuryAddress string `json:"treasury_address"`     // DAO treasury for this token
	FeeAddress      string `json:"fee_address"`          // protocol fee recipient
	IsActive        bool   `json:"is_active" gorm:"default:true"`
}

// DefaultSupportedTokens seeds the stake-token allow list on first boot.
var DefaultSupportedTokens = []SupportedToken{
	{Code: "RUN", Name: "RUN DAO Token", Decimals: 8, IsActive: true},
	{Code: "USDC", Name: "USD Coin", Decimals: 6, IsActive: true},
	{Code: "KRW-P", Name: "KRW Point", Decimals: 0, IsActive: true},
}
