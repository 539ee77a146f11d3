package services

import (
	"errors"
	"log"
	"time"

	"run-dao-backend/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RunService struct {
	DB *gorm.DB
}

func NewRunService(db *gorm.DB) *RunService {
	return &RunService{DB: db}
}

// RoutePointSample is one GPS fix as delivered by a fitness provider.
type RoutePointSample struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ProviderActivity is the normalized activity payload, whether it arrives
// over HTTP or from the provider polling worker.
type ProviderActivity struct {
	Provider       string             `json:"provider"`
	ExternalID     string             `json:"external_id"`
	StartedAt      time.Time          `json:"started_at"`
	DurationSec    int                `json:"duration_sec"`
	DistanceKm     decimal.Decimal    `json:"distance_km"`
	IntegrityScore *float64           `json:"integrity_score"`
	IsSuspicious   bool               `json:"is_suspicious"`
	Route          []RoutePointSample `json:"route"`
}

func validProvider(p string) bool {
	return p == models.ProviderStrava || p == models.ProviderGarmin || p == models.ProviderGoogleFit
}

// IngestRun handles POST /s/runs: stores the provider activity, computes
// pace, persists the route, then links the run to every active quest the
// user is enrolled in (valid or not, the link is recorded either way).
func (s *RunService) IngestRun(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	var body ProviderActivity
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	run, links, err := s.IngestActivity(userID, &body)
	if err != nil {
		return RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"run": run, "quest_runs": links})
}

// IngestActivity validates, stores, and attributes one provider activity.
// Shared by the HTTP handler and the provider polling worker.
func (s *RunService) IngestActivity(userID string, body *ProviderActivity) (*models.RunRecord, []models.QuestRun, error) {
	if !validProvider(body.Provider) {
		return nil, nil, ErrValidation("unknown provider %q", body.Provider)
	}
	if body.ExternalID == "" {
		return nil, nil, ErrValidation("external_id is required")
	}
	if body.DurationSec <= 0 {
		return nil, nil, ErrValidation("duration_sec must be positive")
	}
	if !body.DistanceKm.IsPositive() {
		return nil, nil, ErrValidation("distance_km must be positive")
	}
	if body.StartedAt.IsZero() {
		return nil, nil, ErrValidation("started_at is required")
	}

	integrity := 1.0
	if body.IntegrityScore != nil {
		integrity = *body.IntegrityScore
		if integrity < 0 || integrity > 1 {
			return nil, nil, ErrValidation("integrity_score must be within [0,1]")
		}
	}

	// minutes per km, 2 decimal places
	pace := decimal.NewFromInt(int64(body.DurationSec)).
		Div(decimal.NewFromInt(60)).
		Div(body.DistanceKm).
		Round(2)

	var run models.RunRecord
	var links []models.QuestRun
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.RunRecord
		err := tx.Where("user_id = ? AND provider = ? AND external_id = ?",
			userID, body.Provider, body.ExternalID).First(&existing).Error
		if err == nil {
			return ErrStateConflict("activity %s from %s is already ingested", body.ExternalID, body.Provider)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		run = models.RunRecord{
			ID:             uuid.NewString(),
			UserID:         userID,
			Provider:       body.Provider,
			ExternalID:     body.ExternalID,
			StartedAt:      body.StartedAt,
			DurationSec:    body.DurationSec,
			DistanceKm:     body.DistanceKm,
			PaceMinKm:      pace,
			IntegrityScore: integrity,
			IsSuspicious:   body.IsSuspicious,
		}
		if err := tx.Create(&run).Error; err != nil {
			return err
		}

		for i, p := range body.Route {
			point := models.RoutePoint{
				RunRecordID: run.ID,
				Seq:         i,
				Lat:         p.Lat,
				Lng:         p.Lng,
				RecordedAt:  p.RecordedAt,
			}
			if err := tx.Create(&point).Error; err != nil {
				return err
			}
		}

		var err2 error
		links, err2 = s.attributeToQuests(tx, &run)
		return err2
	})
	if err != nil {
		return nil, nil, err
	}

	log.Printf("📥 Run ingested: user=%s %s/%s %skm pace=%s, linked to %d quest(s)",
		userID, body.Provider, body.ExternalID, body.DistanceKm.String(), pace.String(), len(links))
	return &run, links, nil
}

// attributeToQuests links a fresh run to each active quest the user
// participates in. Runs that miss the quest's window or per-session distance
// threshold still get a link row, just an invalid one.
func (s *RunService) attributeToQuests(tx *gorm.DB, run *models.RunRecord) ([]models.QuestRun, error) {
	var parts []models.Participation
	if err := tx.Where("user_id = ? AND status = ?", run.UserID, models.ParticipationStatusActive).
		Find(&parts).Error; err != nil {
		return nil, err
	}

	links := []models.QuestRun{}
	for i := range parts {
		p := &parts[i]

		var quest models.Quest
		if err := tx.First(&quest, "id = ?", p.QuestID).Error; err != nil {
			return nil, err
		}
		if quest.Status != models.QuestStatusActive {
			continue
		}

		link := models.QuestRun{
			ID:          uuid.NewString(),
			QuestID:     quest.ID,
			RunRecordID: run.ID,
			UserID:      run.UserID,
			IsValid:     true,
		}

		switch {
		case run.IsFraud:
			link.IsValid = false
			link.InvalidReason = "run is flagged as fraudulent"
		case run.StartedAt.Before(quest.StartAt) || !run.StartedAt.Before(quest.EndAt):
			link.IsValid = false
			link.InvalidReason = "run falls outside the quest window"
		case run.DistanceKm.LessThan(quest.SessionDistanceKm):
			link.IsValid = false
			link.InvalidReason = "run distance below the session threshold"
		}

		if err := tx.Create(&link).Error; err != nil {
			return nil, err
		}

		if link.IsValid {
			if err := tx.Model(p).Updates(map[string]interface{}{
				"completed_sessions": p.CompletedSessions + 1,
				"total_distance_km":  p.TotalDistanceKm.Add(run.DistanceKm),
			}).Error; err != nil {
				return nil, err
			}
		}

		links = append(links, link)
	}
	return links, nil
}

// ListMyRuns handles GET /s/runs.
func (s *RunService) ListMyRuns(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	var runs []models.RunRecord
	if err := s.DB.Where("user_id = ?", userID).
		Order("started_at DESC").Limit(100).Find(&runs).Error; err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"runs": runs, "count": len(runs)})
}

// GetRun handles GET /runs/:id with route and kudos count.
func (s *RunService) GetRun(c *fiber.Ctx) error {
	var run models.RunRecord
	if err := s.DB.Preload("RoutePoints", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).First(&run, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("run not found"))
		}
		return RespondError(c, err)
	}

	var kudosCount int64
	if err := s.DB.Model(&models.Kudos{}).Where("run_record_id = ?", run.ID).Count(&kudosCount).Error; err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"run": run, "kudos_count": kudosCount})
}

// GiveKudos handles POST /s/runs/:id/kudos. One per user per run; cheering
// your own run is rejected.
func (s *RunService) GiveKudos(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	var run models.RunRecord
	if err := s.DB.First(&run, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("run not found"))
		}
		return RespondError(c, err)
	}
	if run.UserID == userID {
		return RespondError(c, ErrValidation("cannot give kudos to your own run"))
	}

	kudos := models.Kudos{
		ID:          uuid.NewString(),
		RunRecordID: run.ID,
		FromUserID:  userID,
	}
	result := s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&kudos)
	if result.Error != nil {
		return RespondError(c, result.Error)
	}
	if result.RowsAffected == 0 {
		return RespondError(c, ErrStateConflict("kudos already given"))
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"kudos": kudos})
}

// ReportRun handles POST /s/runs/:id/report.
func (s *RunService) ReportRun(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&body); err != nil || body.Reason == "" {
		return c.Status(400).JSON(fiber.Map{"error": "reason is required"})
	}

	var run models.RunRecord
	if err := s.DB.First(&run, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("run not found"))
		}
		return RespondError(c, err)
	}

	report := models.AbuseReport{
		ID:          uuid.NewString(),
		ReporterID:  userID,
		RunRecordID: run.ID,
		Reason:      body.Reason,
		Status:      models.ReportStatusOpen,
	}
	if err := s.DB.Create(&report).Error; err != nil {
		return RespondError(c, err)
	}
	log.Printf("⚠️ Run %s reported by %s: %s", run.ID, userID, body.Reason)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"report": report})
}

// ResolveReport handles POST /s/admin/reports/:id/resolve. Upholding marks
// the run fraudulent, invalidates its quest links, and claws back the
// progress those links had granted. Quest-run rows stay; only validity flips.
func (s *RunService) ResolveReport(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	roles, _ := c.Locals("user_roles").([]string)
	isAdmin := false
	for _, r := range roles {
		if r == "admin" {
			isAdmin = true
		}
	}
	if !isAdmin {
		return RespondError(c, ErrAuthorization("resolving reports requires the admin role"))
	}

	var body struct {
		Uphold     bool   `json:"uphold"`
		Resolution string `json:"resolution"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var report models.AbuseReport
		if err := lockForUpdate(tx).
			First(&report, "id = ?", c.Params("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound("report not found")
			}
			return err
		}
		if report.Status != models.ReportStatusOpen {
			return ErrStateConflict("report is already %s", report.Status)
		}

		now := time.Now()
		status := models.ReportStatusDismissed
		if body.Uphold {
			status = models.ReportStatusUpheld
		}
		if err := tx.Model(&report).Updates(map[string]interface{}{
			"status":      status,
			"resolved_by": userID,
			"resolved_at": &now,
			"resolution":  body.Resolution,
		}).Error; err != nil {
			return err
		}
		if !body.Uphold {
			return nil
		}

		if err := tx.Model(&models.RunRecord{}).Where("id = ?", report.RunRecordID).
			Updates(map[string]interface{}{
				"is_fraud":    true,
				"reviewed_by": userID,
				"reviewed_at": &now,
				"review_note": body.Resolution,
			}).Error; err != nil {
			return err
		}

		var run models.RunRecord
		if err := tx.First(&run, "id = ?", report.RunRecordID).Error; err != nil {
			return err
		}

		var links []models.QuestRun
		if err := tx.Where("run_record_id = ? AND is_valid = ?", run.ID, true).
			Find(&links).Error; err != nil {
			return err
		}
		for i := range links {
			link := &links[i]
			if err := tx.Model(link).Updates(map[string]interface{}{
				"is_valid":       false,
				"invalid_reason": "run marked fraudulent by moderation",
				"reviewed_by":    userID,
				"reviewed_at":    &now,
			}).Error; err != nil {
				return err
			}

			var p models.Participation
			err := lockForUpdate(tx).
				Where("quest_id = ? AND user_id = ?", link.QuestID, link.UserID).
				First(&p).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if p.Status != models.ParticipationStatusActive {
				continue
			}

			sessions := p.CompletedSessions - 1
			if sessions < 0 {
				sessions = 0
			}
			distance := p.TotalDistanceKm.Sub(run.DistanceKm)
			if distance.IsNegative() {
				distance = decimal.Zero
			}
			if err := tx.Model(&p).Updates(map[string]interface{}{
				"completed_sessions": sessions,
				"total_distance_km":  distance,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return RespondError(c, err)
	}

	return c.JSON(fiber.Map{"status": "resolved"})
}
