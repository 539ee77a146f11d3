package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Participation terminal statuses; success/fail are only reachable once the
// quest itself is completed, forfeit comes from moderation, refunded from
// quest cancellation.
const (
	ParticipationStatusActive   = "active"
	ParticipationStatusSuccess  = "success"
	ParticipationStatusFail     = "fail"
	ParticipationStatusForfeit  = "forfeit"
	ParticipationStatusRefunded = "refunded"
)

// Participation = one user's enrollment in one quest (unique pair).
type Participation struct {
	ID      string `json:"id" gorm:"primaryKey"`
	QuestID string `json:"quest_id" gorm:"not null;uniqueIndex:idx_quest_user"`
	UserID  string `json:"user_id" gorm:"not null;uniqueIndex:idx_quest_user"`

	// Stake snapshot at join time
	StakeAmount decimal.Decimal `json:"stake_amount" gorm:"type:decimal(32,8);not null"`
	StakeToken  string          `json:"stake_token" gorm:"type:varchar(16);not null"`

	// Progress counters, bumped as qualifying runs are linked
	CompletedSessions int             `json:"completed_sessions" gorm:"default:0"`
	TotalDistanceKm   decimal.Decimal `json:"total_distance_km" gorm:"type:decimal(10,3)"`

	Status     string     `json:"status" gorm:"type:varchar(16);default:'active';index"`
	SettledAt  *time.Time `json:"settled_at,omitempty"`
	PayoutAmount decimal.Decimal `json:"payout_amount" gorm:"type:decimal(32,8)"` // winner share or refund, 0 for losers

	Timestamps

	Quest Quest `json:"quest,omitempty" gorm:"foreignKey:QuestID"`
}
