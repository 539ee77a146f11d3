// models/wallet_mirror.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WalletMirror mirrors on-chain wallet state from the chain gateway. The
// database is a read-optimized projection; the chain stays authoritative.
// Table name: wallet_mirror
type WalletMirror struct {
	ID                 string          `json:"id" gorm:"primaryKey;type:uuid;not null"`
	UserID             string          `json:"user_id" gorm:"not null;index"`
	Chain              string          `json:"chain" gorm:"type:varchar(64);not null;index"`
	Token              string          `json:"token" gorm:"type:varchar(64);not null"`
	Address            string          `json:"address" gorm:"type:varchar(128);not null;uniqueIndex"` // Primary lookup key
	Balance            decimal.Decimal `json:"balance" gorm:"type:decimal(32,8)"`
	EscrowedBalance    decimal.Decimal `json:"escrowed_balance" gorm:"type:decimal(32,8)"` // held by the quest vault contract
	IsTreasury         bool            `json:"is_treasury" gorm:"not null"`
	IsActive           bool            `json:"is_active" gorm:"not null"`
	LastBalanceCheckAt time.Time       `json:"last_balance_check_at" gorm:"not null"`
	CreatedAt          time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time       `json:"updated_at" gorm:"not null"`

	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (WalletMirror) TableName() string {
	return "wallet_mirror"
}
