package services

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"run-dao-backend/models"
	"run-dao-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

type CrewService struct {
	DB *gorm.DB
}

func NewCrewService(db *gorm.DB) *CrewService {
	return &CrewService{DB: db}
}

// CreateCrew handles POST /s/crews (multipart form). The creator becomes
// leader and first active member.
func (s *CrewService) CreateCrew(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	name := c.FormValue("name")
	if name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "name is required"})
	}

	crewSlug := slug.Make(name)
	var existing models.Crew
	if err := s.DB.Where("slug = ?", crewSlug).First(&existing).Error; err == nil {
		// keep slugs unique without failing the request
		crewSlug = fmt.Sprintf("%s-%s", crewSlug, uuid.NewString()[:8])
	}

	// Optional emblem → R2
	var emblemURL string
	if emblem, err := c.FormFile("emblem"); err == nil && emblem.Size > 0 {
		ext := filepath.Ext(emblem.Filename)
		if ext == "" {
			ext = ".png"
		}
		key := fmt.Sprintf("crew-emblems/%s%s", uuid.NewString(), ext)
		emblemURL, err = utils.UploadFileToR2(emblem, key)
		if err != nil {
			log.Printf("⚠️ Emblem upload failed: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to upload emblem"})
		}
	}

	crew := models.Crew{
		ID:           uuid.NewString(),
		Name:         name,
		Slug:         crewSlug,
		Description:  c.FormValue("description"),
		Region:       c.FormValue("region"),
		IsPrivate:    c.FormValue("is_private") == "true",
		LeaderUserID: userID,
		MaxMembers:   30,
		EmblemURL:    emblemURL,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&crew).Error; err != nil {
			return err
		}
		now := time.Now()
		membership := models.CrewMembership{
			ID:       uuid.NewString(),
			CrewID:   crew.ID,
			UserID:   userID,
			Status:   models.MembershipStatusActive,
			JoinedAt: &now,
		}
		return tx.Create(&membership).Error
	})
	if err != nil {
		log.Printf("❌ Failed to create crew: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create crew"})
	}

	log.Printf("✅ Crew created: %s (%s) by %s", crew.Name, crew.Slug, userID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"crew": crew})
}

// ListCrews handles GET /crews with optional region filter.
func (s *CrewService) ListCrews(c *fiber.Ctx) error {
	q := s.DB.Model(&models.Crew{})
	if region := c.Query("region"); region != "" {
		q = q.Where("region = ?", region)
	}

	var crews []models.Crew
	if err := q.Order("created_at DESC").Find(&crews).Error; err != nil {
		return RespondError(c, err)
	}
	for i := range crews {
		var count int64
		s.DB.Model(&models.CrewMembership{}).
			Where("crew_id = ? AND status = ?", crews[i].ID, models.MembershipStatusActive).
			Count(&count)
		crews[i].ActiveMemberCount = count
	}
	return c.JSON(fiber.Map{"crews": crews, "count": len(crews)})
}

// GetCrew handles GET /crews/:id.
func (s *CrewService) GetCrew(c *fiber.Ctx) error {
	var crew models.Crew
	if err := s.DB.Preload("Memberships", "status = ?", models.MembershipStatusActive).
		First(&crew, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("crew not found"))
		}
		return RespondError(c, err)
	}
	crew.ActiveMemberCount = int64(len(crew.Memberships))
	return c.JSON(fiber.Map{"crew": crew})
}

// ListCrewQuests handles GET /crews/:id/quests.
func (s *CrewService) ListCrewQuests(c *fiber.Ctx) error {
	var crew models.Crew
	if err := s.DB.First(&crew, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("crew not found"))
		}
		return RespondError(c, err)
	}

	var quests []models.Quest
	if err := s.DB.Where("crew_id = ?", crew.ID).
		Order("start_at DESC").Find(&quests).Error; err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"quests": quests, "count": len(quests)})
}

// JoinCrew handles POST /s/crews/:id/join. Private crews queue the request
// as pending for the leader; public crews admit immediately, capacity
// permitting. Rejoining after leaving reuses the old membership row.
func (s *CrewService) JoinCrew(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}
	crewID := c.Params("id")

	var membership models.CrewMembership
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var crew models.Crew
		if err := lockForUpdate(tx).
			First(&crew, "id = ?", crewID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound("crew not found")
			}
			return err
		}

		var activeCount int64
		if err := tx.Model(&models.CrewMembership{}).
			Where("crew_id = ? AND status = ?", crewID, models.MembershipStatusActive).
			Count(&activeCount).Error; err != nil {
			return err
		}
		if activeCount >= int64(crew.MaxMembers) {
			return ErrStateConflict("crew is full (%d members)", crew.MaxMembers)
		}

		status := models.MembershipStatusActive
		var joinedAt *time.Time
		if crew.IsPrivate {
			status = models.MembershipStatusPending
		} else {
			now := time.Now()
			joinedAt = &now
		}

		var existing models.CrewMembership
		err := tx.Where("crew_id = ? AND user_id = ?", crewID, userID).First(&existing).Error
		if err == nil {
			if existing.Status != models.MembershipStatusLeft {
				return ErrStateConflict("membership already %s", existing.Status)
			}
			if err := tx.Model(&existing).Updates(map[string]interface{}{
				"status":    status,
				"joined_at": joinedAt,
				"left_at":   nil,
			}).Error; err != nil {
				return err
			}
			membership = existing
			membership.Status = status
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		membership = models.CrewMembership{
			ID:       uuid.NewString(),
			CrewID:   crewID,
			UserID:   userID,
			Status:   status,
			JoinedAt: joinedAt,
		}
		return tx.Create(&membership).Error
	})
	if err != nil {
		return RespondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"membership": membership})
}

// ApproveMember handles POST /s/crews/:id/members/:userId/approve (leader only).
func (s *CrewService) ApproveMember(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	crewID := c.Params("id")
	targetID := c.Params("userId")

	var crew models.Crew
	if err := s.DB.First(&crew, "id = ?", crewID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("crew not found"))
		}
		return RespondError(c, err)
	}
	if crew.LeaderUserID != userID {
		return RespondError(c, ErrAuthorization("only the crew leader can approve members"))
	}

	var membership models.CrewMembership
	if err := s.DB.Where("crew_id = ? AND user_id = ?", crewID, targetID).
		First(&membership).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("no join request from user %s", targetID))
		}
		return RespondError(c, err)
	}
	if membership.Status != models.MembershipStatusPending {
		return RespondError(c, ErrStateConflict("membership is %s, nothing to approve", membership.Status))
	}

	now := time.Now()
	if err := s.DB.Model(&membership).Updates(map[string]interface{}{
		"status":    models.MembershipStatusActive,
		"joined_at": &now,
	}).Error; err != nil {
		return RespondError(c, err)
	}

	log.Printf("✅ Crew %s: member %s approved by %s", crewID, targetID, userID)
	return c.JSON(fiber.Map{"membership": membership})
}

// LeaveCrew handles POST /s/crews/:id/leave. The leader cannot leave their
// own crew; leadership transfer is out of scope for now.
func (s *CrewService) LeaveCrew(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	crewID := c.Params("id")

	var crew models.Crew
	if err := s.DB.First(&crew, "id = ?", crewID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("crew not found"))
		}
		return RespondError(c, err)
	}
	if crew.LeaderUserID == userID {
		return RespondError(c, ErrStateConflict("the leader cannot leave their own crew"))
	}

	var membership models.CrewMembership
	if err := s.DB.Where("crew_id = ? AND user_id = ? AND status IN ?",
		crewID, userID, []string{models.MembershipStatusActive, models.MembershipStatusPending}).
		First(&membership).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("not a member of this crew"))
		}
		return RespondError(c, err)
	}

	now := time.Now()
	if err := s.DB.Model(&membership).Updates(map[string]interface{}{
		"status":  models.MembershipStatusLeft,
		"left_at": &now,
	}).Error; err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"status": models.MembershipStatusLeft})
}
