package services

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"run-dao-backend/models"
	"run-dao-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type QuestService struct {
	DB     *gorm.DB
	Escrow *EscrowService
	Medals *MedalService
}

func NewQuestService(db *gorm.DB, escrow *EscrowService, medals *MedalService) *QuestService {
	return &QuestService{DB: db, Escrow: escrow, Medals: medals}
}

// CreateQuest handles POST /s/quests (multipart form, crew leader only).
func (s *QuestService) CreateQuest(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	crewID := c.FormValue("crew_id")
	title := c.FormValue("title")
	description := c.FormValue("description")
	distanceStr := c.FormValue("distance_km")
	sessionDistanceStr := c.FormValue("session_distance_km")
	timesPerWeekStr := c.FormValue("times_per_week")
	startStr := c.FormValue("start_at")
	endStr := c.FormValue("end_at")
	stakeAmountStr := c.FormValue("stake_amount")
	stakeToken := c.FormValue("stake_token")
	maxSlotsStr := c.FormValue("max_slots")

	if crewID == "" || title == "" || distanceStr == "" || startStr == "" || endStr == "" || stakeAmountStr == "" || stakeToken == "" {
		return c.Status(400).JSON(fiber.Map{"error": "crew_id, title, distance_km, start_at, end_at, stake_amount, and stake_token are required"})
	}

	var crew models.Crew
	if err := s.DB.First(&crew, "id = ?", crewID).Error; err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "crew_id not found"})
	}
	if crew.LeaderUserID != userID {
		return RespondError(c, ErrAuthorization("only the crew leader can create quests"))
	}

	distanceKm, err := decimal.NewFromString(distanceStr)
	if err != nil || !distanceKm.IsPositive() {
		return c.Status(400).JSON(fiber.Map{"error": "distance_km must be a positive number"})
	}

	sessionDistanceKm := distanceKm
	if sessionDistanceStr != "" {
		sessionDistanceKm, err = decimal.NewFromString(sessionDistanceStr)
		if err != nil || !sessionDistanceKm.IsPositive() {
			return c.Status(400).JSON(fiber.Map{"error": "session_distance_km must be a positive number"})
		}
	}

	timesPerWeek := 1
	if timesPerWeekStr != "" {
		if n, err := strconv.Atoi(timesPerWeekStr); err == nil && n >= 1 && n <= 14 {
			timesPerWeek = n
		} else {
			return c.Status(400).JSON(fiber.Map{"error": "times_per_week must be between 1 and 14"})
		}
	}

	startAt, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid start_at (use RFC3339)"})
	}
	endAt, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid end_at (use RFC3339)"})
	}
	if !endAt.After(startAt) {
		return c.Status(400).JSON(fiber.Map{"error": "end_at must be after start_at"})
	}
	if startAt.Before(time.Now()) {
		return c.Status(400).JSON(fiber.Map{"error": "start_at must be in the future"})
	}

	stakeAmount, err := decimal.NewFromString(stakeAmountStr)
	if err != nil || !stakeAmount.IsPositive() {
		return c.Status(400).JSON(fiber.Map{"error": "stake_amount must be a positive number"})
	}

	var token models.SupportedToken
	if err := s.DB.First(&token, "code = ? AND is_active = ?", stakeToken, true).Error; err != nil {
		return c.Status(400).JSON(fiber.Map{"error": fmt.Sprintf("stake_token %s is not supported", stakeToken)})
	}
	if stakeAmount.Exponent() < -token.Decimals {
		return c.Status(400).JSON(fiber.Map{"error": fmt.Sprintf("stake_amount has more than %d decimal places", token.Decimals)})
	}

	maxSlots := 10
	if maxSlotsStr != "" {
		if n, err := strconv.Atoi(maxSlotsStr); err == nil && n >= 2 {
			maxSlots = n
		} else {
			return c.Status(400).JSON(fiber.Map{"error": "max_slots must be at least 2"})
		}
	}

	// Settlement split — defaults 80/10/10, overridable within the fee cap
	successBps, daoBps, feeBps := models.DefaultSuccessBps, models.DefaultDaoBps, models.DefaultProtocolFeeBps
	if v := c.FormValue("success_bps"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			successBps = n
		}
	}
	if v := c.FormValue("dao_bps"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			daoBps = n
		}
	}
	if v := c.FormValue("protocol_fee_bps"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			feeBps = n
		}
	}
	if _, _, _, err := SplitPool(decimal.Zero, successBps, daoBps, feeBps, token.Decimals); err != nil {
		return RespondError(c, err)
	}

	// Optional cover photo → R2
	var coverURL string
	if cover, err := c.FormFile("cover_photo"); err == nil && cover.Size > 0 {
		ext := filepath.Ext(cover.Filename)
		if ext == "" {
			ext = ".jpg"
		}
		key := fmt.Sprintf("quest-covers/%s%s", uuid.NewString(), ext)
		coverURL, err = utils.UploadFileToR2(cover, key)
		if err != nil {
			log.Printf("⚠️ Cover photo upload failed: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to upload cover photo"})
		}
	}

	quest := models.Quest{
		ID:                uuid.NewString(),
		CrewID:            crewID,
		Title:             title,
		Description:       description,
		DistanceKm:        distanceKm,
		SessionDistanceKm: sessionDistanceKm,
		TimesPerWeek:      timesPerWeek,
		StartAt:           startAt,
		EndAt:             endAt,
		StakeAmount:       stakeAmount,
		StakeToken:        stakeToken,
		MaxSlots:          maxSlots,
		SuccessBps:        successBps,
		DaoBps:            daoBps,
		ProtocolFeeBps:    feeBps,
		Status:            models.QuestStatusOpen,
		CoverPhotoURL:     coverURL,
		CreatedBy:         userID,
	}
	if err := s.DB.Create(&quest).Error; err != nil {
		log.Printf("❌ Failed to create quest: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create quest"})
	}

	log.Printf("✅ Quest created: %s (%s, stake %s %s, %d slots)", quest.Title, quest.ID, stakeAmount.String(), stakeToken, maxSlots)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"quest": quest})
}

// ListQuests handles GET /quests with optional crew/status filters.
func (s *QuestService) ListQuests(c *fiber.Ctx) error {
	q := s.DB.Model(&models.Quest{})
	if crewID := c.Query("crew_id"); crewID != "" {
		q = q.Where("crew_id = ?", crewID)
	}
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var quests []models.Quest
	if err := q.Order("start_at DESC").Find(&quests).Error; err != nil {
		return RespondError(c, err)
	}
	for i := range quests {
		quests[i].AvailableSlots = int64(quests[i].MaxSlots - quests[i].ParticipantCount)
	}
	return c.JSON(fiber.Map{"quests": quests, "count": len(quests)})
}

// GetQuest handles GET /quests/:id with participations and escrow totals.
func (s *QuestService) GetQuest(c *fiber.Ctx) error {
	var quest models.Quest
	if err := s.DB.Preload("Participations").First(&quest, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("quest not found"))
		}
		return RespondError(c, err)
	}

	quest.AvailableSlots = int64(quest.MaxSlots - quest.ParticipantCount)
	locked, err := s.Escrow.LockedTotal(quest.ID)
	if err != nil {
		return RespondError(c, err)
	}
	quest.TotalStakeLocked = locked
	return c.JSON(fiber.Map{"quest": quest})
}

// JoinQuest handles POST /s/quests/:id/join. The quest row is locked for the
// duration of the transaction so concurrent joins cannot overbook slots.
func (s *QuestService) JoinQuest(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}
	questID := c.Params("id")

	// Body is optional; when a stake is sent it must match the quest's stake
	// exactly. Partial or padded stakes are never accepted.
	var body struct {
		StakeAmount string `json:"stake_amount"`
	}
	_ = c.BodyParser(&body)

	var participation models.Participation
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var quest models.Quest
		if err := lockForUpdate(tx).
			First(&quest, "id = ?", questID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound("quest not found")
			}
			return err
		}

		if body.StakeAmount != "" {
			offered, err := decimal.NewFromString(body.StakeAmount)
			if err != nil {
				return ErrValidation("stake_amount must be a number")
			}
			if !offered.Equal(quest.StakeAmount) {
				return ErrValidation("stake_amount must equal the quest stake of %s %s", quest.StakeAmount.String(), quest.StakeToken)
			}
		}

		if quest.Status != models.QuestStatusOpen {
			return ErrStateConflict("quest is %s, joining is only possible while open", quest.Status)
		}
		if !time.Now().Before(quest.StartAt) {
			return ErrStateConflict("quest window has already started")
		}
		if quest.ParticipantCount >= quest.MaxSlots {
			return ErrStateConflict("quest is full (%d slots)", quest.MaxSlots)
		}

		// Must be an active member of the owning crew
		var membership models.CrewMembership
		if err := tx.Where("crew_id = ? AND user_id = ? AND status = ?",
			quest.CrewID, userID, models.MembershipStatusActive).
			First(&membership).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAuthorization("joining requires active membership in the quest's crew")
			}
			return err
		}

		var existing models.Participation
		err := tx.Where("quest_id = ? AND user_id = ?", questID, userID).First(&existing).Error
		if err == nil {
			return ErrStateConflict("already joined this quest")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		participation = models.Participation{
			ID:          uuid.NewString(),
			QuestID:     questID,
			UserID:      userID,
			StakeAmount: quest.StakeAmount,
			StakeToken:  quest.StakeToken,
			Status:      models.ParticipationStatusActive,
		}
		if err := tx.Create(&participation).Error; err != nil {
			return err
		}

		if err := s.Escrow.Deposit(tx, questID, userID, quest.StakeToken, quest.StakeAmount); err != nil {
			return err
		}

		updates := map[string]interface{}{"participant_count": quest.ParticipantCount + 1}
		// Start time may have passed while this transaction ran; the quest
		// has a participant now, so it goes live immediately.
		if !time.Now().Before(quest.StartAt) {
			now := time.Now()
			updates["status"] = models.QuestStatusActive
			updates["activated_at"] = &now
		}
		return tx.Model(&quest).Updates(updates).Error
	})
	if err != nil {
		return RespondError(c, err)
	}

	log.Printf("🏃 User %s joined quest %s (stake locked)", userID, questID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"participation": participation})
}

// ActivateDueQuests flips open quests whose window has started. Quests that
// reached their start with nobody enrolled are cancelled instead. Called by
// the scheduler; returns how many quests changed state.
func (s *QuestService) ActivateDueQuests() (int, error) {
	var due []models.Quest
	if err := s.DB.Where("status = ? AND start_at <= ?", models.QuestStatusOpen, time.Now()).
		Find(&due).Error; err != nil {
		return 0, err
	}

	changed := 0
	for i := range due {
		quest := &due[i]
		now := time.Now()
		if quest.ParticipantCount == 0 {
			err := s.DB.Model(quest).Updates(map[string]interface{}{
				"status":       models.QuestStatusCancelled,
				"cancelled_at": &now,
			}).Error
			if err != nil {
				log.Printf("❌ Failed to cancel empty quest %s: %v", quest.ID, err)
				continue
			}
			log.Printf("🗑️ Quest %s reached start with no participants, cancelled", quest.ID)
		} else {
			err := s.DB.Model(quest).Updates(map[string]interface{}{
				"status":       models.QuestStatusActive,
				"activated_at": &now,
			}).Error
			if err != nil {
				log.Printf("❌ Failed to activate quest %s: %v", quest.ID, err)
				continue
			}
			log.Printf("✅ Quest %s activated (%d participants)", quest.ID, quest.ParticipantCount)
		}
		changed++
	}
	return changed, nil
}

// DeriveWinners handles GET /s/quests/:id/winners — the participants whose
// valid sessions meet the quest's bar. Convenience for the settlement caller;
// CompleteQuest still takes the explicit list.
func (s *QuestService) DeriveWinners(c *fiber.Ctx) error {
	var quest models.Quest
	if err := s.DB.First(&quest, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("quest not found"))
		}
		return RespondError(c, err)
	}

	var parts []models.Participation
	if err := s.DB.Where("quest_id = ?", quest.ID).Find(&parts).Error; err != nil {
		return RespondError(c, err)
	}

	required := quest.RequiredSessions()
	winners := []string{}
	for _, p := range parts {
		if p.Status == models.ParticipationStatusActive && p.CompletedSessions >= required {
			winners = append(winners, p.UserID)
		}
	}
	return c.JSON(fiber.Map{"quest_id": quest.ID, "required_sessions": required, "winners": winners})
}

// CompleteQuest handles POST /s/quests/:id/complete. The caller names the
// winners; everyone else forfeits their stake into the pool, which is split
// by the quest's rates. Medals are minted in the same transaction.
func (s *QuestService) CompleteQuest(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}
	questID := c.Params("id")

	var body struct {
		Winners []string `json:"winners"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	var settlement *models.Settlement
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var quest models.Quest
		if err := lockForUpdate(tx).
			First(&quest, "id = ?", questID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound("quest not found")
			}
			return err
		}

		if quest.Status != models.QuestStatusActive {
			return ErrStateConflict("quest is %s, only active quests can complete", quest.Status)
		}
		if time.Now().Before(quest.EndAt) {
			return ErrStateConflict("quest window has not ended yet (ends %s)", quest.EndAt.Format(time.RFC3339))
		}
		if !s.isAdmin(c) && quest.CreatedBy != userID {
			return ErrAuthorization("only the quest creator or an admin can complete a quest")
		}

		var parts []models.Participation
		if err := lockForUpdate(tx).
			Where("quest_id = ?", questID).Find(&parts).Error; err != nil {
			return err
		}

		byUser := make(map[string]*models.Participation, len(parts))
		for i := range parts {
			byUser[parts[i].UserID] = &parts[i]
		}

		winnerSet := make(map[string]bool, len(body.Winners))
		for _, w := range body.Winners {
			p, ok := byUser[w]
			if !ok {
				return ErrValidation("winner %s is not a participant of this quest", w)
			}
			if p.Status != models.ParticipationStatusActive {
				return ErrValidation("winner %s has participation status %s", w, p.Status)
			}
			if winnerSet[w] {
				return ErrValidation("duplicate winner %s", w)
			}
			winnerSet[w] = true
		}

		// Forfeited pool = losers' stakes. Forfeited participations (from
		// moderation) already lost their claim but their stake is in escrow
		// and joins the pool the same way.
		forfeited := decimal.Zero
		losers := []string{}
		for i := range parts {
			p := &parts[i]
			if !winnerSet[p.UserID] {
				forfeited = forfeited.Add(p.StakeAmount)
				losers = append(losers, p.UserID)
			}
		}

		result, err := s.Escrow.Distribute(tx, &quest, forfeited, body.Winners, losers, userID)
		if err != nil {
			return err
		}
		settlement = result.Settlement

		now := time.Now()
		for i := range parts {
			p := &parts[i]
			won := winnerSet[p.UserID]

			status := models.ParticipationStatusFail
			payout := decimal.Zero
			if won {
				status = models.ParticipationStatusSuccess
				payout = result.PerWinner.Add(p.StakeAmount)
			} else if p.Status == models.ParticipationStatusForfeit {
				status = models.ParticipationStatusForfeit
			}

			if err := tx.Model(p).Updates(map[string]interface{}{
				"status":        status,
				"settled_at":    &now,
				"payout_amount": payout,
			}).Error; err != nil {
				return err
			}

			if _, err := s.Medals.MintQuestMedal(tx, &quest, p, won); err != nil {
				return err
			}
		}

		return tx.Model(&quest).Updates(map[string]interface{}{
			"status":       models.QuestStatusCompleted,
			"completed_at": &now,
		}).Error
	})
	if err != nil {
		return RespondError(c, err)
	}

	return c.JSON(fiber.Map{"settlement": settlement})
}

// CancelQuest handles POST /s/quests/:id/cancel. Legal only while the quest
// is open and before its start; every locked stake goes straight back to its
// owner. No pool split, no medals.
func (s *QuestService) CancelQuest(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}
	questID := c.Params("id")

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var quest models.Quest
		if err := lockForUpdate(tx).
			First(&quest, "id = ?", questID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound("quest not found")
			}
			return err
		}

		if quest.Status != models.QuestStatusOpen {
			return ErrStateConflict("quest is %s, cancellation is only possible while open", quest.Status)
		}
		if !time.Now().Before(quest.StartAt) {
			return ErrStateConflict("quest has already started, cancellation window is closed")
		}
		if !s.isAdmin(c) && quest.CreatedBy != userID {
			return ErrAuthorization("only the quest creator or an admin can cancel a quest")
		}

		var parts []models.Participation
		if err := tx.Where("quest_id = ?", questID).Find(&parts).Error; err != nil {
			return err
		}

		now := time.Now()
		for i := range parts {
			p := &parts[i]
			if err := s.Escrow.Refund(tx, questID, p.UserID, p.StakeAmount); err != nil {
				return err
			}
			if err := tx.Model(p).Updates(map[string]interface{}{
				"status":        models.ParticipationStatusRefunded,
				"settled_at":    &now,
				"payout_amount": p.StakeAmount,
			}).Error; err != nil {
				return err
			}
		}

		return tx.Model(&quest).Updates(map[string]interface{}{
			"status":       models.QuestStatusCancelled,
			"cancelled_at": &now,
		}).Error
	})
	if err != nil {
		return RespondError(c, err)
	}

	log.Printf("🔁 Quest %s cancelled, all stakes refunded", questID)
	return c.JSON(fiber.Map{"status": models.QuestStatusCancelled})
}

// GetSettlement handles GET /quests/:id/settlement.
func (s *QuestService) GetSettlement(c *fiber.Ctx) error {
	var settlement models.Settlement
	if err := s.DB.First(&settlement, "quest_id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("quest has no settlement"))
		}
		return RespondError(c, err)
	}

	var payouts []models.PayoutRecord
	if err := s.DB.Where("quest_id = ?", settlement.QuestID).
		Order("created_at ASC").Find(&payouts).Error; err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"settlement": settlement, "payouts": payouts})
}

func (s *QuestService) isAdmin(c *fiber.Ctx) bool {
	roles, _ := c.Locals("user_roles").([]string)
	for _, r := range roles {
		if r == "admin" {
			return true
		}
	}
	return false
}
