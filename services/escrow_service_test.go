package services

import (
	"testing"

	"run-dao-backend/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSplitPool(t *testing.T) {
	t.Run("DefaultSplit", func(t *testing.T) {
		winner, dao, fee, err := SplitPool(decimal.NewFromInt(10), 8000, 1000, 1000, 0)
		require.NoError(t, err)
		assert.Equal(t, "8", winner.String())
		assert.Equal(t, "1", dao.String())
		assert.Equal(t, "1", fee.String())
	})

	t.Run("BucketsAlwaysDrainThePool", func(t *testing.T) {
		total := decimal.RequireFromString("33.333333")
		winner, dao, fee, err := SplitPool(total, 8000, 1000, 1000, 6)
		require.NoError(t, err)
		assert.True(t, winner.Add(dao).Add(fee).Equal(total),
			"winner=%s dao=%s fee=%s", winner, dao, fee)
	})

	t.Run("RatesMustSumToDenominator", func(t *testing.T) {
		_, _, _, err := SplitPool(decimal.NewFromInt(10), 8000, 1000, 500, 0)
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrKindArithmetic))
	})

	t.Run("FeeCapEnforced", func(t *testing.T) {
		_, _, _, err := SplitPool(decimal.NewFromInt(10), 7000, 500, 2500, 0)
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrKindArithmetic))
	})

	t.Run("NegativeRateRejected", func(t *testing.T) {
		_, _, _, err := SplitPool(decimal.NewFromInt(10), 11000, -500, -500, 0)
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrKindArithmetic))
	})

	t.Run("NegativePoolRejected", func(t *testing.T) {
		_, _, _, err := SplitPool(decimal.NewFromInt(-1), 8000, 1000, 1000, 0)
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrKindArithmetic))
	})
}

func TestSplitWinnerPool(t *testing.T) {
	t.Run("EvenSplit", func(t *testing.T) {
		per, dust := SplitWinnerPool(decimal.NewFromInt(8), 2, 0)
		assert.Equal(t, "4", per.String())
		assert.True(t, dust.IsZero())
	})

	t.Run("RemainderBecomesDust", func(t *testing.T) {
		per, dust := SplitWinnerPool(decimal.NewFromInt(8), 3, 0)
		assert.Equal(t, "2", per.String())
		assert.Equal(t, "2", dust.String())
	})

	t.Run("NoWinnersMeansAllDust", func(t *testing.T) {
		per, dust := SplitWinnerPool(decimal.NewFromInt(8), 0, 0)
		assert.True(t, per.IsZero())
		assert.Equal(t, "8", dust.String())
	})
}

func TestEscrowDepositAndVault(t *testing.T) {
	db := newTestDB(t)
	escrow := NewEscrowService(db)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return escrow.Deposit(tx, "quest-1", "user-a", "KRW-P", decimal.NewFromInt(10))
	}))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return escrow.Deposit(tx, "quest-1", "user-b", "KRW-P", decimal.NewFromInt(10))
	}))

	var vault models.TokenVault
	require.NoError(t, db.First(&vault, "token = ?", "KRW-P").Error)
	assert.Equal(t, "20", vault.Custodied.String())
	assert.Equal(t, "20", vault.Locked.String())
	assert.True(t, vault.Available().IsZero())

	locked, err := escrow.LockedTotal("quest-1")
	require.NoError(t, err)
	assert.Equal(t, "20", locked.String())

	t.Run("NonPositiveAmountRejected", func(t *testing.T) {
		err := db.Transaction(func(tx *gorm.DB) error {
			return escrow.Deposit(tx, "quest-1", "user-c", "KRW-P", decimal.Zero)
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrKindValidation))
	})
}

func TestEscrowRefund(t *testing.T) {
	db := newTestDB(t)
	escrow := NewEscrowService(db)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return escrow.Deposit(tx, "quest-1", "user-a", "KRW-P", decimal.NewFromInt(10))
	}))

	t.Run("RefundExceedingLockRejected", func(t *testing.T) {
		err := db.Transaction(func(tx *gorm.DB) error {
			return escrow.Refund(tx, "quest-1", "user-a", decimal.NewFromInt(11))
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrKindValidation))
	})

	t.Run("FullRefundReleasesAndPays", func(t *testing.T) {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return escrow.Refund(tx, "quest-1", "user-a", decimal.NewFromInt(10))
		}))

		var rec models.EscrowRecord
		require.NoError(t, db.First(&rec, "quest_id = ? AND participant_id = ?", "quest-1", "user-a").Error)
		assert.False(t, rec.Locked)
		assert.NotNil(t, rec.ReleasedAt)

		var payout models.PayoutRecord
		require.NoError(t, db.First(&payout, "quest_id = ? AND recipient = ?", "quest-1", "user-a").Error)
		assert.Equal(t, models.PayoutKindRefund, payout.Kind)
		assert.Equal(t, "10", payout.Amount.String())

		var vault models.TokenVault
		require.NoError(t, db.First(&vault, "token = ?", "KRW-P").Error)
		assert.True(t, vault.Custodied.IsZero())
		assert.True(t, vault.Locked.IsZero())
	})

	t.Run("SecondRefundRejected", func(t *testing.T) {
		err := db.Transaction(func(tx *gorm.DB) error {
			return escrow.Refund(tx, "quest-1", "user-a", decimal.NewFromInt(1))
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrKindStateConflict))
	})

	t.Run("UnknownParticipantNotFound", func(t *testing.T) {
		err := db.Transaction(func(tx *gorm.DB) error {
			return escrow.Refund(tx, "quest-1", "ghost", decimal.NewFromInt(1))
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrKindNotFound))
	})
}

func TestEscrowDistribute(t *testing.T) {
	db := newTestDB(t)
	escrow := NewEscrowService(db)

	quest := &models.Quest{
		ID:             "quest-1",
		StakeToken:     "KRW-P",
		SuccessBps:     8000,
		DaoBps:         1000,
		ProtocolFeeBps: 1000,
	}

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		if err := escrow.Deposit(tx, quest.ID, "user-a", "KRW-P", decimal.NewFromInt(10)); err != nil {
			return err
		}
		return escrow.Deposit(tx, quest.ID, "user-b", "KRW-P", decimal.NewFromInt(10))
	}))

	var result *DistributeResult
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = escrow.Distribute(tx, quest, decimal.NewFromInt(10),
			[]string{"user-a"}, []string{"user-b"}, "admin-1")
		return err
	}))

	assert.Equal(t, "8", result.WinnerPool.String())
	assert.Equal(t, "1", result.DaoPool.String())
	assert.Equal(t, "1", result.ProtocolFee.String())
	assert.Equal(t, "8", result.PerWinner.String())

	s := result.Settlement
	assert.Equal(t, 1, s.WinnersCount)
	assert.Equal(t, 1, s.LosersCount)
	assert.Equal(t, "20", s.TotalStaked.String())
	assert.Equal(t, "10", s.ForfeitedPool.String())
	assert.True(t, s.Dust.IsZero())

	// user-a: 8 winner share + 10 stake release; treasury and fee get 1 each
	var payouts []models.PayoutRecord
	require.NoError(t, db.Where("quest_id = ?", quest.ID).Find(&payouts).Error)
	byKind := map[string]models.PayoutRecord{}
	for _, p := range payouts {
		byKind[p.Kind] = p
	}
	assert.Equal(t, "8", byKind[models.PayoutKindWinnerShare].Amount.String())
	assert.Equal(t, "user-a", byKind[models.PayoutKindWinnerShare].Recipient)
	assert.Equal(t, "10", byKind[models.PayoutKindStakeRelease].Amount.String())
	assert.Equal(t, "user-a", byKind[models.PayoutKindStakeRelease].Recipient)
	assert.Equal(t, "treasury-addr", byKind[models.PayoutKindDaoPool].Recipient)
	assert.Equal(t, "fee-addr", byKind[models.PayoutKindProtocolFee].Recipient)

	// every escrow record unlocked, vault drained
	var lockedCount int64
	require.NoError(t, db.Model(&models.EscrowRecord{}).
		Where("quest_id = ? AND locked = ?", quest.ID, true).Count(&lockedCount).Error)
	assert.Zero(t, lockedCount)

	var vault models.TokenVault
	require.NoError(t, db.First(&vault, "token = ?", "KRW-P").Error)
	assert.True(t, vault.Locked.IsZero())
	assert.True(t, vault.Custodied.IsZero())

	t.Run("SecondDistributeRejected", func(t *testing.T) {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := escrow.Distribute(tx, quest, decimal.NewFromInt(10),
				[]string{"user-a"}, []string{"user-b"}, "admin-1")
			return err
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrKindStateConflict))

		var count int64
		require.NoError(t, db.Model(&models.Settlement{}).
			Where("quest_id = ?", quest.ID).Count(&count).Error)
		assert.EqualValues(t, 1, count)
	})

	t.Run("BadRatesRejectedAtSettlement", func(t *testing.T) {
		bad := &models.Quest{ID: "quest-2", StakeToken: "KRW-P", SuccessBps: 9000, DaoBps: 1000, ProtocolFeeBps: 1000}
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := escrow.Distribute(tx, bad, decimal.NewFromInt(10), nil, nil, "admin-1")
			return err
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrKindArithmetic))
	})
}
