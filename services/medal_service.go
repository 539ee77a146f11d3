package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"run-dao-backend/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type MedalService struct {
	DB *gorm.DB
}

func NewMedalService(db *gorm.DB) *MedalService {
	return &MedalService{DB: db}
}

// goldRarity grades a winner's medal by the quest's field size.
func goldRarity(totalParticipants int) string {
	switch {
	case totalParticipants >= 100:
		return models.RarityLegendary
	case totalParticipants >= 50:
		return models.RarityEpic
	case totalParticipants >= 20:
		return models.RarityRare
	default:
		return models.RarityUncommon
	}
}

// greyRarity grades a participation medal by effort shown.
func greyRarity(sessions int) string {
	if sessions >= 5 {
		return models.RarityUncommon
	}
	return models.RarityCommon
}

// MintQuestMedal mints the achievement medal for one participant at quest
// settlement. Winners get gold, everyone else grey. Both quest medal types
// feed the merge ladder; only special medals are terminal.
func (s *MedalService) MintQuestMedal(tx *gorm.DB, quest *models.Quest, p *models.Participation, won bool) (*models.Medal, error) {
	medalType := models.MedalTypeGrey
	rarity := greyRarity(p.CompletedSessions)
	title := fmt.Sprintf("%s — Finisher", quest.Title)
	if won {
		medalType = models.MedalTypeGold
		rarity = goldRarity(quest.ParticipantCount)
		title = fmt.Sprintf("%s — Champion", quest.Title)
	}

	questID := quest.ID
	medal := models.Medal{
		ID:                uuid.NewString(),
		UserID:            p.UserID,
		QuestID:           &questID,
		Type:              medalType,
		Rarity:            rarity,
		Title:             title,
		Description:       quest.Description,
		Sessions:          p.CompletedSessions,
		DistanceKm:        p.TotalDistanceKm,
		TotalParticipants: quest.ParticipantCount,
		Upgradeable:       true,
		UpgradeLevel:      0,
	}
	if err := tx.Create(&medal).Error; err != nil {
		return nil, err
	}
	log.Printf("🏅 Minted %s %s medal for user %s (quest %s)", rarity, medalType, p.UserID, quest.ID)
	return &medal, nil
}

// UpgradeInput carries the caller's presentation choices for the merged medal.
type UpgradeInput struct {
	Title       string
	Description string
	ImageURL    string
	Story       string
}

// UpgradeMedals burns a set of same-type upgradeable medals the user owns and
// mints one special medal carrying their summed stats. The whole batch
// commits or nothing does.
func (s *MedalService) UpgradeMedals(userID string, sourceIDs []string, input UpgradeInput) (*models.Medal, error) {
	if len(sourceIDs) < 3 {
		return nil, ErrValidation("upgrading needs at least 3 source medals, got %d", len(sourceIDs))
	}
	seen := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		if seen[id] {
			return nil, ErrValidation("duplicate source medal %s", id)
		}
		seen[id] = true
	}

	var result *models.Medal
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var sources []models.Medal
		if err := lockForUpdate(tx).
			Where("id IN ?", sourceIDs).Find(&sources).Error; err != nil {
			return err
		}
		if len(sources) != len(sourceIDs) {
			return ErrNotFound("one or more source medals do not exist")
		}

		sourceType := sources[0].Type
		totalSessions := 0
		totalDistance := decimal.Zero
		for i := range sources {
			m := &sources[i]
			if m.UserID != userID {
				return ErrAuthorization("medal %s is not owned by the caller", m.ID)
			}
			if m.Burned {
				return ErrStateConflict("medal %s is already burned", m.ID)
			}
			if !m.Upgradeable {
				return ErrStateConflict("medal %s is not upgradeable", m.ID)
			}
			if m.Type != sourceType {
				return ErrValidation("source medals must share a type (%s vs %s)", sourceType, m.Type)
			}
			totalSessions += m.Sessions
			totalDistance = totalDistance.Add(m.DistanceKm)
		}

		rarity, ok := models.UpgradeRarity(sourceType, len(sources))
		if !ok {
			return ErrValidation("%s medals have no upgrade path", sourceType)
		}

		title := input.Title
		if title == "" {
			title = fmt.Sprintf("Forged from %d %s medals", len(sources), sourceType)
		}

		now := time.Now()
		upgraded := models.Medal{
			ID:           uuid.NewString(),
			UserID:       userID,
			Type:         models.MedalTypeSpecial,
			Rarity:       rarity,
			Title:        title,
			Description:  input.Description,
			ImageURL:     input.ImageURL,
			Story:        input.Story,
			Sessions:     totalSessions,
			DistanceKm:   totalDistance,
			Upgradeable:  false,
			UpgradeLevel: 1,
		}
		if err := tx.Create(&upgraded).Error; err != nil {
			return err
		}

		for i := range sources {
			if err := tx.Model(&sources[i]).Updates(map[string]interface{}{
				"burned":    true,
				"burned_at": &now,
			}).Error; err != nil {
				return err
			}
			src := models.MedalSource{MedalID: upgraded.ID, SourceMedalID: sources[i].ID}
			if err := tx.Create(&src).Error; err != nil {
				return err
			}
		}

		result = &upgraded
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🔥 User %s merged %d medals into %s (%s)", userID, len(sourceIDs), result.ID, result.Rarity)
	return result, nil
}

// --- HTTP handlers ---

// ListMyMedals returns the caller's medal cabinet, burned ones excluded
// unless ?include_burned=true.
func (s *MedalService) ListMyMedals(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	q := s.DB.Where("user_id = ?", userID)
	if c.Query("include_burned") != "true" {
		q = q.Where("burned = ?", false)
	}
	if t := c.Query("type"); t != "" {
		q = q.Where("type = ?", t)
	}

	var medals []models.Medal
	if err := q.Order("created_at DESC").Find(&medals).Error; err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"medals": medals, "count": len(medals)})
}

// GetMedal returns one medal with its merge lineage when it has one.
func (s *MedalService) GetMedal(c *fiber.Ctx) error {
	var medal models.Medal
	if err := s.DB.First(&medal, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("medal not found"))
		}
		return RespondError(c, err)
	}

	var sources []models.MedalSource
	if err := s.DB.Where("medal_id = ?", medal.ID).Find(&sources).Error; err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"medal": medal, "sources": sources})
}

// Upgrade handles POST /s/medals/upgrade.
func (s *MedalService) Upgrade(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	var body struct {
		MedalIDs    []string `json:"medal_ids"`
		Title       string   `json:"title"`
		Description string   `json:"description"`
		ImageURL    string   `json:"image_url"`
		Story       string   `json:"story"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	medal, err := s.UpgradeMedals(userID, body.MedalIDs, UpgradeInput{
		Title:       body.Title,
		Description: body.Description,
		ImageURL:    body.ImageURL,
		Story:       body.Story,
	})
	if err != nil {
		return RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"medal": medal})
}

// UpdateMetadata handles PATCH /s/medals/:id — presentation fields only,
// by the owner. Stats and rarity are immutable.
func (s *MedalService) UpdateMetadata(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	var body struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		ImageURL    *string `json:"image_url"`
		Story       *string `json:"story"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	var medal models.Medal
	if err := s.DB.First(&medal, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("medal not found"))
		}
		return RespondError(c, err)
	}
	if medal.UserID != userID {
		return RespondError(c, ErrAuthorization("medal belongs to another user"))
	}
	if medal.Burned {
		return RespondError(c, ErrStateConflict("medal is burned"))
	}

	updates := map[string]interface{}{}
	if body.Title != nil {
		updates["title"] = *body.Title
	}
	if body.Description != nil {
		updates["description"] = *body.Description
	}
	if body.ImageURL != nil {
		updates["image_url"] = *body.ImageURL
	}
	if body.Story != nil {
		updates["story"] = *body.Story
	}
	if len(updates) == 0 {
		return RespondError(c, ErrValidation("no updatable fields supplied"))
	}

	if err := s.DB.Model(&medal).Updates(updates).Error; err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"medal": medal})
}
