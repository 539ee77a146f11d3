package services

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"run-dao-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinQuest(t *testing.T) {
	db := newTestDB(t)
	app := newTestApp(db)

	leader := seedUser(t, db, "leader")
	runnerA := seedUser(t, db, "runner-a")
	runnerB := seedUser(t, db, "runner-b")
	runnerC := seedUser(t, db, "runner-c")
	outsider := seedUser(t, db, "outsider")
	crew := seedCrew(t, db, leader, runnerA, runnerB, runnerC)
	quest := seedQuest(t, db, crew, leader, "10", 2)

	t.Run("FirstJoinSucceeds", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", runnerA.ID, "", nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var p models.Participation
		require.NoError(t, db.First(&p, "quest_id = ? AND user_id = ?", quest.ID, runnerA.ID).Error)
		assert.Equal(t, models.ParticipationStatusActive, p.Status)
		assert.Equal(t, "10", p.StakeAmount.String())

		var rec models.EscrowRecord
		require.NoError(t, db.First(&rec, "quest_id = ? AND participant_id = ?", quest.ID, runnerA.ID).Error)
		assert.True(t, rec.Locked)
	})

	t.Run("MismatchedStakeRejected", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", runnerB.ID, "",
			map[string]interface{}{"stake_amount": "7"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var count int64
		require.NoError(t, db.Model(&models.Participation{}).
			Where("quest_id = ? AND user_id = ?", quest.ID, runnerB.ID).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("DuplicateJoinRejected", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", runnerA.ID, "", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("NonMemberRejected", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", outsider.ID, "", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("FullQuestRejectsJoin", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", runnerB.ID, "", nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", runnerC.ID, "", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		var q models.Quest
		require.NoError(t, db.First(&q, "id = ?", quest.ID).Error)
		assert.Equal(t, 2, q.ParticipantCount)
	})

	t.Run("JoinAfterStartRejected", func(t *testing.T) {
		late := seedQuest(t, db, crew, leader, "10", 5)
		endQuest(t, db, late.ID)
		resp := doJSON(t, app, "POST", "/s/quests/"+late.ID+"/join", runnerC.ID, "", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestCompleteQuest(t *testing.T) {
	db := newTestDB(t)
	app := newTestApp(db)

	leader := seedUser(t, db, "leader")
	runnerA := seedUser(t, db, "runner-a")
	runnerB := seedUser(t, db, "runner-b")
	crew := seedCrew(t, db, leader, runnerA, runnerB)
	quest := seedQuest(t, db, crew, leader, "10", 2)

	require.Equal(t, http.StatusCreated,
		doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", runnerA.ID, "", nil).StatusCode)
	require.Equal(t, http.StatusCreated,
		doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", runnerB.ID, "", nil).StatusCode)

	body := map[string]interface{}{"winners": []string{runnerA.ID}}

	t.Run("RejectedBeforeWindowEnds", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/complete", leader.ID, "", body)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	endQuest(t, db, quest.ID)

	t.Run("NonCreatorRejected", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/complete", runnerB.ID, "", body)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("UnknownWinnerRejected", func(t *testing.T) {
		bad := map[string]interface{}{"winners": []string{"ghost"}}
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/complete", leader.ID, "", bad)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("SettlesEightTenTen", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/complete", leader.ID, "", body)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var s models.Settlement
		require.NoError(t, db.First(&s, "quest_id = ?", quest.ID).Error)
		assert.Equal(t, "8", s.WinnerPool.String())
		assert.Equal(t, "1", s.DaoPool.String())
		assert.Equal(t, "1", s.ProtocolFee.String())
		assert.Equal(t, "8", s.PerWinnerShare.String())
		assert.Equal(t, 1, s.WinnersCount)
		assert.Equal(t, 1, s.LosersCount)

		var q models.Quest
		require.NoError(t, db.First(&q, "id = ?", quest.ID).Error)
		assert.Equal(t, models.QuestStatusCompleted, q.Status)
		require.NotNil(t, q.CompletedAt)

		// winner keeps the stake and takes the pool share; loser gets nothing
		var pa, pb models.Participation
		require.NoError(t, db.First(&pa, "quest_id = ? AND user_id = ?", quest.ID, runnerA.ID).Error)
		require.NoError(t, db.First(&pb, "quest_id = ? AND user_id = ?", quest.ID, runnerB.ID).Error)
		assert.Equal(t, models.ParticipationStatusSuccess, pa.Status)
		assert.Equal(t, "18", pa.PayoutAmount.String())
		assert.Equal(t, models.ParticipationStatusFail, pb.Status)
		assert.True(t, pb.PayoutAmount.IsZero())

		// gold for the winner, grey for the loser
		var ma, mb models.Medal
		require.NoError(t, db.First(&ma, "user_id = ? AND quest_id = ?", runnerA.ID, quest.ID).Error)
		require.NoError(t, db.First(&mb, "user_id = ? AND quest_id = ?", runnerB.ID, quest.ID).Error)
		assert.Equal(t, models.MedalTypeGold, ma.Type)
		assert.Equal(t, models.MedalTypeGrey, mb.Type)
		assert.True(t, mb.Upgradeable)

		// no escrow left behind
		var lockedCount int64
		require.NoError(t, db.Model(&models.EscrowRecord{}).
			Where("quest_id = ? AND locked = ?", quest.ID, true).Count(&lockedCount).Error)
		assert.Zero(t, lockedCount)
	})

	t.Run("SecondCompleteRejected", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/complete", leader.ID, "", body)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		var count int64
		require.NoError(t, db.Model(&models.Settlement{}).
			Where("quest_id = ?", quest.ID).Count(&count).Error)
		assert.EqualValues(t, 1, count)
	})
}

func TestCancelQuest(t *testing.T) {
	db := newTestDB(t)
	app := newTestApp(db)

	leader := seedUser(t, db, "leader")
	runnerA := seedUser(t, db, "runner-a")
	runnerB := seedUser(t, db, "runner-b")
	crew := seedCrew(t, db, leader, runnerA, runnerB)
	quest := seedQuest(t, db, crew, leader, "10", 5)

	require.Equal(t, http.StatusCreated,
		doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", runnerA.ID, "", nil).StatusCode)
	require.Equal(t, http.StatusCreated,
		doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", runnerB.ID, "", nil).StatusCode)

	t.Run("NonCreatorRejected", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/cancel", runnerA.ID, "", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("RefundsEveryStake", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/cancel", leader.ID, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var q models.Quest
		require.NoError(t, db.First(&q, "id = ?", quest.ID).Error)
		assert.Equal(t, models.QuestStatusCancelled, q.Status)

		var lockedCount int64
		require.NoError(t, db.Model(&models.EscrowRecord{}).
			Where("quest_id = ? AND locked = ?", quest.ID, true).Count(&lockedCount).Error)
		assert.Zero(t, lockedCount)

		var refunds []models.PayoutRecord
		require.NoError(t, db.Where("quest_id = ? AND kind = ?", quest.ID, models.PayoutKindRefund).
			Find(&refunds).Error)
		require.Len(t, refunds, 2)
		for _, r := range refunds {
			assert.Equal(t, "10", r.Amount.String())
		}

		// participations land in a terminal state, not stuck active
		var parts []models.Participation
		require.NoError(t, db.Where("quest_id = ?", quest.ID).Find(&parts).Error)
		require.Len(t, parts, 2)
		for _, p := range parts {
			assert.Equal(t, models.ParticipationStatusRefunded, p.Status)
			assert.NotNil(t, p.SettledAt)
			assert.Equal(t, "10", p.PayoutAmount.String())
		}

		var vault models.TokenVault
		require.NoError(t, db.First(&vault, "token = ?", "KRW-P").Error)
		assert.True(t, vault.Custodied.IsZero())
	})

	t.Run("CancelledQuestRejectsJoin", func(t *testing.T) {
		resp := doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", runnerA.ID, "", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("ActiveQuestCannotBeCancelled", func(t *testing.T) {
		started := seedQuest(t, db, crew, leader, "10", 5)
		endQuest(t, db, started.ID)
		resp := doJSON(t, app, "POST", "/s/quests/"+started.ID+"/cancel", leader.ID, "", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestActivateDueQuests(t *testing.T) {
	db := newTestDB(t)
	app := newTestApp(db)

	leader := seedUser(t, db, "leader")
	runner := seedUser(t, db, "runner")
	crew := seedCrew(t, db, leader, runner)

	populated := seedQuest(t, db, crew, leader, "10", 5)
	require.Equal(t, http.StatusCreated,
		doJSON(t, app, "POST", "/s/quests/"+populated.ID+"/join", runner.ID, "", nil).StatusCode)
	empty := seedQuest(t, db, crew, leader, "10", 5)
	future := seedQuest(t, db, crew, leader, "10", 5)

	// rewind the first two past their start
	for _, id := range []string{populated.ID, empty.ID} {
		require.NoError(t, db.Model(&models.Quest{}).Where("id = ?", id).
			Update("start_at", time.Now().Add(-time.Minute)).Error)
	}

	escrow := NewEscrowService(db)
	medals := NewMedalService(db)
	quests := NewQuestService(db, escrow, medals)

	changed, err := quests.ActivateDueQuests()
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	var q models.Quest
	require.NoError(t, db.First(&q, "id = ?", populated.ID).Error)
	assert.Equal(t, models.QuestStatusActive, q.Status)
	require.NotNil(t, q.ActivatedAt)

	require.NoError(t, db.First(&q, "id = ?", empty.ID).Error)
	assert.Equal(t, models.QuestStatusCancelled, q.Status)

	require.NoError(t, db.First(&q, "id = ?", future.ID).Error)
	assert.Equal(t, models.QuestStatusOpen, q.Status)
}

func TestDeriveWinners(t *testing.T) {
	db := newTestDB(t)
	app := newTestApp(db)

	leader := seedUser(t, db, "leader")
	runnerA := seedUser(t, db, "runner-a")
	runnerB := seedUser(t, db, "runner-b")
	crew := seedCrew(t, db, leader, runnerA, runnerB)
	quest := seedQuest(t, db, crew, leader, "10", 5)

	require.Equal(t, http.StatusCreated,
		doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", runnerA.ID, "", nil).StatusCode)
	require.Equal(t, http.StatusCreated,
		doJSON(t, app, "POST", "/s/quests/"+quest.ID+"/join", runnerB.ID, "", nil).StatusCode)

	// 2-week window, twice a week: the bar is 4 sessions
	require.NoError(t, db.Model(&models.Participation{}).
		Where("quest_id = ? AND user_id = ?", quest.ID, runnerA.ID).
		Update("completed_sessions", 4).Error)
	require.NoError(t, db.Model(&models.Participation{}).
		Where("quest_id = ? AND user_id = ?", quest.ID, runnerB.ID).
		Update("completed_sessions", 3).Error)

	resp := doJSON(t, app, "GET", "/s/quests/"+quest.ID+"/winners", leader.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		RequiredSessions int      `json:"required_sessions"`
		Winners          []string `json:"winners"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 4, out.RequiredSessions)
	assert.Equal(t, []string{runnerA.ID}, out.Winners)
}
