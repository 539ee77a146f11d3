package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payout kinds on the settlement audit trail
const (
	PayoutKindWinnerShare  = "winner_share"
	PayoutKindStakeRelease = "stake_release" // winner's own stake back
	PayoutKindDaoPool      = "dao_pool"
	PayoutKindProtocolFee  = "protocol_fee"
	PayoutKindRefund       = "refund" // cancellation path
)

// EscrowRecord holds one participant's staked funds for one quest.
type EscrowRecord struct {
	ID            string `json:"id" gorm:"primaryKey"`
	QuestID       string `json:"quest_id" gorm:"not null;uniqueIndex:idx_escrow_quest_user"`
	ParticipantID string `json:"participant_id" gorm:"not null;uniqueIndex:idx_escrow_quest_user"` // user id

	Token  string          `json:"token" gorm:"type:varchar(16);not null"`
	Amount decimal.Decimal `json:"amount" gorm:"type:decimal(32,8);not null"`
	Locked bool            `json:"locked" gorm:"default:true;index"`

	LockedAt   time.Time  `json:"locked_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`

	Timestamps
}

// TokenVault tracks per-token custody totals. Invariant: Locked <= Custodied;
// available balance is the difference.
type TokenVault struct {
	Token     string          `json:"token" gorm:"primaryKey;type:varchar(16)"`
	Custodied decimal.Decimal `json:"custodied" gorm:"type:decimal(32,8)"`
	Locked    decimal.Decimal `json:"locked" gorm:"type:decimal(32,8)"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// Available returns the custodied funds not pledged to any quest.
func (v *TokenVault) Available() decimal.Decimal {
	return v.Custodied.Sub(v.Locked)
}

// PayoutRecord is one transfer made by the settlement engine — winner share,
// stake release, pool payment, or refund. Append-only audit trail.
type PayoutRecord struct {
	ID        string `json:"id" gorm:"primaryKey"`
	QuestID   string `json:"quest_id" gorm:"not null;index"`
	Kind      string `json:"kind" gorm:"type:varchar(24);not null"`
	Recipient string `json:"recipient" gorm:"not null;index"` // user id or treasury/fee address

	Token  string          `json:"token" gorm:"type:varchar(16);not null"`
	Amount decimal.Decimal `json:"amount" gorm:"type:decimal(32,8);not null"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// Settlement is the one immutable record per quest completion batch. The
// unique index on QuestID doubles as the double-settlement guard.
type Settlement struct {
	ID      string `json:"id" gorm:"primaryKey"`
	QuestID string `json:"quest_id" gorm:"uniqueIndex;not null"`

	Token         string          `json:"token" gorm:"type:varchar(16);not null"`
	TotalStaked   decimal.Decimal `json:"total_staked" gorm:"type:decimal(32,8);not null"`
	ForfeitedPool decimal.Decimal `json:"forfeited_pool" gorm:"type:decimal(32,8);not null"` // losers' stakes, the distributed amount

	WinnerPool     decimal.Decimal `json:"winner_pool" gorm:"type:decimal(32,8)"`
	DaoPool        decimal.Decimal `json:"dao_pool" gorm:"type:decimal(32,8)"`
	ProtocolFee    decimal.Decimal `json:"protocol_fee" gorm:"type:decimal(32,8)"`
	PerWinnerShare decimal.Decimal `json:"per_winner_share" gorm:"type:decimal(32,8)"`
	Dust           decimal.Decimal `json:"dust" gorm:"type:decimal(32,8)"` // winner-split remainder, not redistributed

	WinnersCount int `json:"winners_count" gorm:"not null"`
	LosersCount  int `json:"losers_count" gorm:"not null"`

	SettledBy string    `json:"settled_by" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
