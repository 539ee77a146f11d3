package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"run-dao-backend/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Crew{},
		&models.CrewMembership{},
		&models.Quest{},
		&models.SupportedToken{},
		&models.Participation{},
		&models.RunRecord{},
		&models.RoutePoint{},
		&models.QuestRun{},
		&models.Medal{},
		&models.MedalSource{},
		&models.EscrowRecord{},
		&models.TokenVault{},
		&models.PayoutRecord{},
		&models.Settlement{},
		&models.Kudos{},
		&models.AbuseReport{},
		&models.WalletMirror{},
	))

	tokens := []models.SupportedToken{
		{Code: "RUN", Name: "RUN DAO Token", Decimals: 8, TreasuryAddress: "treasury-addr", FeeAddress: "fee-addr", IsActive: true},
		{Code: "KRW-P", Name: "KRW Point", Decimals: 0, TreasuryAddress: "treasury-addr", FeeAddress: "fee-addr", IsActive: true},
	}
	require.NoError(t, db.Create(&tokens).Error)
	return db
}

// newTestApp wires every route the way main.go does, minus the gateway, with
// a stand-in for the user-context middleware reading the same headers.
func newTestApp(db *gorm.DB) *fiber.App {
	escrow := NewEscrowService(db)
	medals := NewMedalService(db)
	quests := NewQuestService(db, escrow, medals)
	runs := NewRunService(db)
	crews := NewCrewService(db)
	users := NewUserService(db)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-User-ID"))
		var roles []string
		if r := c.Get("X-User-Roles"); r != "" {
			roles = strings.Split(r, ",")
		}
		c.Locals("user_roles", roles)
		return c.Next()
	})

	app.Get("/quests/:id", quests.GetQuest)
	app.Get("/quests/:id/settlement", quests.GetSettlement)
	app.Post("/s/quests/:id/join", quests.JoinQuest)
	app.Get("/s/quests/:id/winners", quests.DeriveWinners)
	app.Post("/s/quests/:id/complete", quests.CompleteQuest)
	app.Post("/s/quests/:id/cancel", quests.CancelQuest)
	app.Post("/s/runs/:id/kudos", runs.GiveKudos)
	app.Post("/s/runs/:id/report", runs.ReportRun)
	app.Post("/s/admin/reports/:id/resolve", runs.ResolveReport)
	app.Post("/s/crews/:id/join", crews.JoinCrew)
	app.Post("/s/crews/:id/leave", crews.LeaveCrew)
	app.Post("/users", users.CreateUser)
	app.Get("/users/wallet/:address", users.GetUserByWallet)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, userID string, roles string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func seedUser(t *testing.T, db *gorm.DB, nickname string) *models.User {
	t.Helper()
	user := models.User{
		ID:            uuid.NewString(),
		Email:         fmt.Sprintf("%s@example.com", nickname),
		WalletAddress: "0x" + uuid.NewString(),
		CustodyMode:   models.CustodyModeCustodial,
		Nickname:      nickname,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func seedCrew(t *testing.T, db *gorm.DB, leader *models.User, members ...*models.User) *models.Crew {
	t.Helper()
	crew := models.Crew{
		ID:           uuid.NewString(),
		Name:         "Night Runners",
		Slug:         "night-runners-" + uuid.NewString()[:8],
		LeaderUserID: leader.ID,
		MaxMembers:   30,
	}
	require.NoError(t, db.Create(&crew).Error)

	now := time.Now()
	for _, u := range append([]*models.User{leader}, members...) {
		m := models.CrewMembership{
			ID:       uuid.NewString(),
			CrewID:   crew.ID,
			UserID:   u.ID,
			Status:   models.MembershipStatusActive,
			JoinedAt: &now,
		}
		require.NoError(t, db.Create(&m).Error)
	}
	return &crew
}

func seedQuest(t *testing.T, db *gorm.DB, crew *models.Crew, creator *models.User, stake string, maxSlots int) *models.Quest {
	t.Helper()
	quest := models.Quest{
		ID:                uuid.NewString(),
		CrewID:            crew.ID,
		Title:             "Morning 5K Streak",
		DistanceKm:        decimal.NewFromInt(40),
		SessionDistanceKm: decimal.NewFromInt(5),
		TimesPerWeek:      2,
		StartAt:           time.Now().Add(time.Hour),
		EndAt:             time.Now().Add(14 * 24 * time.Hour),
		StakeAmount:       decimal.RequireFromString(stake),
		StakeToken:        "KRW-P",
		MaxSlots:          maxSlots,
		SuccessBps:        models.DefaultSuccessBps,
		DaoBps:            models.DefaultDaoBps,
		ProtocolFeeBps:    models.DefaultProtocolFeeBps,
		Status:            models.QuestStatusOpen,
		CreatedBy:         creator.ID,
	}
	require.NoError(t, db.Create(&quest).Error)
	return &quest
}

// endQuest rewinds the quest window so completion preconditions hold.
func endQuest(t *testing.T, db *gorm.DB, questID string) {
	t.Helper()
	require.NoError(t, db.Model(&models.Quest{}).Where("id = ?", questID).
		Updates(map[string]interface{}{
			"status":   models.QuestStatusActive,
			"start_at": time.Now().Add(-14 * 24 * time.Hour),
			"end_at":   time.Now().Add(-time.Hour),
		}).Error)
}
