// services/escrow_service.go
package services

import (
	"errors"
	"log"
	"time"

	"run-dao-backend/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EscrowService is the fund-custody and settlement engine: it locks stakes
// when participants join, divides the forfeited pool at completion, and pays
// refunds on cancellation. All payout math runs in basis points on decimal
// amounts quantized to the token's precision.
type EscrowService struct {
	DB *gorm.DB
}

func NewEscrowService(db *gorm.DB) *EscrowService {
	return &EscrowService{DB: db}
}

// SplitPool divides total into winner/DAO/fee buckets by basis points.
// Winner and DAO buckets are floored to the token's decimals; the fee bucket
// takes the remainder so the three always drain the pool exactly.
func SplitPool(total decimal.Decimal, successBps, daoBps, feeBps int64, decimals int32) (winner, dao, fee decimal.Decimal, err error) {
	zero := decimal.Zero
	if successBps < 0 || daoBps < 0 || feeBps < 0 {
		return zero, zero, zero, ErrArithmetic("settlement rates must be non-negative")
	}
	if successBps+daoBps+feeBps != models.BpsDenominator {
		return zero, zero, zero, ErrArithmetic("settlement rates must sum to 100%% (got %d bps)", successBps+daoBps+feeBps)
	}
	if feeBps > models.MaxProtocolFeeBps {
		return zero, zero, zero, ErrArithmetic("protocol fee %d bps exceeds the %d bps cap", feeBps, models.MaxProtocolFeeBps)
	}
	if total.IsNegative() {
		return zero, zero, zero, ErrArithmetic("pool amount cannot be negative")
	}

	den := decimal.NewFromInt(models.BpsDenominator)
	winner = total.Mul(decimal.NewFromInt(successBps)).Div(den).RoundFloor(decimals)
	dao = total.Mul(decimal.NewFromInt(daoBps)).Div(den).RoundFloor(decimals)
	fee = total.Sub(winner).Sub(dao)
	return winner, dao, fee, nil
}

// SplitWinnerPool divides the winner bucket evenly. Per-winner shares are
// floored to the token's decimals; the remainder is dust, recorded on the
// settlement and never redistributed.
func SplitWinnerPool(winnerPool decimal.Decimal, winners int, decimals int32) (perWinner, dust decimal.Decimal) {
	if winners <= 0 || !winnerPool.IsPositive() {
		return decimal.Zero, winnerPool
	}
	n := decimal.NewFromInt(int64(winners))
	perWinner = winnerPool.Div(n).RoundFloor(decimals)
	dust = winnerPool.Sub(perWinner.Mul(n))
	return perWinner, dust
}

// Deposit locks a participant's stake for a quest inside the given
// transaction: one escrow record plus the per-token vault counters.
func (s *EscrowService) Deposit(tx *gorm.DB, questID, userID, token string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrValidation("deposit amount must be positive")
	}

	rec := models.EscrowRecord{
		ID:            uuid.NewString(),
		QuestID:       questID,
		ParticipantID: userID,
		Token:         token,
		Amount:        amount,
		Locked:        true,
		LockedAt:      time.Now(),
	}
	if err := tx.Create(&rec).Error; err != nil {
		return err
	}

	return s.adjustVault(tx, token, amount, amount)
}

// Refund releases part or all of a locked stake directly back to the
// participant. Legal only while the record is locked — used exclusively by
// quest cancellation.
func (s *EscrowService) Refund(tx *gorm.DB, questID, userID string, amount decimal.Decimal) error {
	var rec models.EscrowRecord
	if err := lockForUpdate(tx).
		Where("quest_id = ? AND participant_id = ?", questID, userID).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound("no escrow record for participant %s in quest %s", userID, questID)
		}
		return err
	}
	if !rec.Locked {
		return ErrStateConflict("escrow for participant %s is already released", userID)
	}
	if amount.GreaterThan(rec.Amount) {
		return ErrValidation("refund %s exceeds locked amount %s", amount.String(), rec.Amount.String())
	}

	now := time.Now()
	remaining := rec.Amount.Sub(amount)
	updates := map[string]interface{}{"amount": remaining}
	if remaining.IsZero() {
		updates["locked"] = false
		updates["released_at"] = &now
	}
	if err := tx.Model(&rec).Updates(updates).Error; err != nil {
		return err
	}

	payout := models.PayoutRecord{
		ID:        uuid.NewString(),
		QuestID:   questID,
		Kind:      models.PayoutKindRefund,
		Recipient: userID,
		Token:     rec.Token,
		Amount:    amount,
	}
	if err := tx.Create(&payout).Error; err != nil {
		return err
	}

	return s.adjustVault(tx, rec.Token, amount.Neg(), amount.Neg())
}

// DistributeResult captures what Distribute paid where.
type DistributeResult struct {
	Settlement  *models.Settlement
	PerWinner   decimal.Decimal
	WinnerPool  decimal.Decimal
	DaoPool     decimal.Decimal
	ProtocolFee decimal.Decimal
}

// Distribute settles a quest: splits the forfeited pool across winners, DAO
// treasury, and protocol fee, releases every escrow record (winners get their
// own stake back on top of the share), and writes the one immutable
// Settlement row. A second call for the same quest is rejected.
func (s *EscrowService) Distribute(tx *gorm.DB, quest *models.Quest, totalAmount decimal.Decimal, winners, losers []string, settledBy string) (*DistributeResult, error) {
	// Idempotency guard — re-running the payout math would double-pay.
	var existing models.Settlement
	err := tx.Where("quest_id = ?", quest.ID).First(&existing).Error
	if err == nil {
		return nil, ErrStateConflict("quest %s is already settled", quest.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	token, err := s.lookupToken(tx, quest.StakeToken)
	if err != nil {
		return nil, err
	}

	winnerPool, daoPool, feePool, err := SplitPool(totalAmount, quest.SuccessBps, quest.DaoBps, quest.ProtocolFeeBps, token.Decimals)
	if err != nil {
		return nil, err
	}

	perWinner, dust := SplitWinnerPool(winnerPool, len(winners), token.Decimals)

	var paidOut decimal.Decimal

	// Winner shares
	if perWinner.IsPositive() {
		for _, w := range winners {
			payout := models.PayoutRecord{
				ID:        uuid.NewString(),
				QuestID:   quest.ID,
				Kind:      models.PayoutKindWinnerShare,
				Recipient: w,
				Token:     quest.StakeToken,
				Amount:    perWinner,
			}
			if err := tx.Create(&payout).Error; err != nil {
				return nil, err
			}
			paidOut = paidOut.Add(perWinner)
		}
	}

	// DAO pool — skipped when zero or treasury unset
	if daoPool.IsPositive() && token.TreasuryAddress != "" {
		payout := models.PayoutRecord{
			ID:        uuid.NewString(),
			QuestID:   quest.ID,
			Kind:      models.PayoutKindDaoPool,
			Recipient: token.TreasuryAddress,
			Token:     quest.StakeToken,
			Amount:    daoPool,
		}
		if err := tx.Create(&payout).Error; err != nil {
			return nil, err
		}
		paidOut = paidOut.Add(daoPool)
	}

	// Protocol fee — skipped when zero or recipient unset
	if feePool.IsPositive() && token.FeeAddress != "" {
		payout := models.PayoutRecord{
			ID:        uuid.NewString(),
			QuestID:   quest.ID,
			Kind:      models.PayoutKindProtocolFee,
			Recipient: token.FeeAddress,
			Token:     quest.StakeToken,
			Amount:    feePool,
		}
		if err := tx.Create(&payout).Error; err != nil {
			return nil, err
		}
		paidOut = paidOut.Add(feePool)
	}

	// Release every escrow record for this quest — winners and losers alike.
	// Winners additionally get their own stake back.
	winnerSet := make(map[string]bool, len(winners))
	for _, w := range winners {
		winnerSet[w] = true
	}

	var records []models.EscrowRecord
	if err := lockForUpdate(tx).
		Where("quest_id = ? AND locked = ?", quest.ID, true).
		Find(&records).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	var totalStaked, unlocked decimal.Decimal
	for i := range records {
		rec := &records[i]
		totalStaked = totalStaked.Add(rec.Amount)
		unlocked = unlocked.Add(rec.Amount)

		if winnerSet[rec.ParticipantID] {
			payout := models.PayoutRecord{
				ID:        uuid.NewString(),
				QuestID:   quest.ID,
				Kind:      models.PayoutKindStakeRelease,
				Recipient: rec.ParticipantID,
				Token:     rec.Token,
				Amount:    rec.Amount,
			}
			if err := tx.Create(&payout).Error; err != nil {
				return nil, err
			}
			paidOut = paidOut.Add(rec.Amount)
		}

		if err := tx.Model(rec).Updates(map[string]interface{}{
			"locked":      false,
			"amount":      decimal.Zero,
			"released_at": &now,
		}).Error; err != nil {
			return nil, err
		}
	}

	if err := s.adjustVault(tx, quest.StakeToken, unlocked.Neg(), unlocked.Neg()); err != nil {
		return nil, err
	}

	settlement := models.Settlement{
		ID:             uuid.NewString(),
		QuestID:        quest.ID,
		Token:          quest.StakeToken,
		TotalStaked:    totalStaked,
		ForfeitedPool:  totalAmount,
		WinnerPool:     winnerPool,
		DaoPool:        daoPool,
		ProtocolFee:    feePool,
		PerWinnerShare: perWinner,
		Dust:           dust,
		WinnersCount:   len(winners),
		LosersCount:    len(losers),
		SettledBy:      settledBy,
	}
	if err := tx.Create(&settlement).Error; err != nil {
		return nil, err
	}

	log.Printf("💰 Settled quest %s: pool=%s → winners=%s (×%d), dao=%s, fee=%s, dust=%s, paid out %s total",
		quest.ID, totalAmount.String(), perWinner.String(), len(winners),
		daoPool.String(), feePool.String(), dust.String(), paidOut.String())

	return &DistributeResult{
		Settlement:  &settlement,
		PerWinner:   perWinner,
		WinnerPool:  winnerPool,
		DaoPool:     daoPool,
		ProtocolFee: feePool,
	}, nil
}

// LockedTotal sums the still-locked escrow for a quest.
func (s *EscrowService) LockedTotal(questID string) (decimal.Decimal, error) {
	var rows []models.EscrowRecord
	if err := s.DB.Where("quest_id = ? AND locked = ?", questID, true).Find(&rows).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total, nil
}

func (s *EscrowService) lookupToken(tx *gorm.DB, code string) (*models.SupportedToken, error) {
	var token models.SupportedToken
	if err := tx.Where("code = ? AND is_active = ?", code, true).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrValidation("stake token %s is not supported", code)
		}
		return nil, err
	}
	return &token, nil
}

// adjustVault moves the per-token custody counters, enforcing locked ≤ custodied.
func (s *EscrowService) adjustVault(tx *gorm.DB, token string, custodiedDelta, lockedDelta decimal.Decimal) error {
	var vault models.TokenVault
	err := lockForUpdate(tx).
		Where("token = ?", token).First(&vault).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		vault = models.TokenVault{Token: token, Custodied: decimal.Zero, Locked: decimal.Zero}
		if err := tx.Create(&vault).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	newCustodied := vault.Custodied.Add(custodiedDelta)
	newLocked := vault.Locked.Add(lockedDelta)
	if newCustodied.IsNegative() || newLocked.IsNegative() {
		return ErrArithmetic("vault counters for %s would go negative", token)
	}
	if newLocked.GreaterThan(newCustodied) {
		return ErrArithmetic("locked %s would exceed custodied %s for %s", newLocked.String(), newCustodied.String(), token)
	}

	return tx.Model(&models.TokenVault{}).Where("token = ?", token).
		Updates(map[string]interface{}{"custodied": newCustodied, "locked": newLocked}).Error
}
