package services

import (
	"errors"
	"log"
	"strings"

	"run-dao-backend/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserService struct {
	DB *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

// CreateUser handles POST /users. Accounts are provisioned by the identity
// gateway after social login; identity fields are fixed here, profile fields
// stay editable afterwards.
func (s *UserService) CreateUser(c *fiber.Ctx) error {
	var body struct {
		Email          string `json:"email"`
		SocialProvider string `json:"social_provider"`
		SocialSubject  string `json:"social_subject"`
		WalletAddress  string `json:"wallet_address"`
		CustodyMode    string `json:"custody_mode"`
		Nickname       string `json:"nickname"`
		AvatarURL      string `json:"avatar_url"`
		Region         string `json:"region"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	if body.Email == "" || !strings.Contains(body.Email, "@") {
		return RespondError(c, ErrValidation("a valid email is required"))
	}
	if body.WalletAddress == "" {
		return RespondError(c, ErrValidation("wallet_address is required"))
	}
	custody := body.CustodyMode
	if custody == "" {
		custody = models.CustodyModeCustodial
	}
	if custody != models.CustodyModeCustodial && custody != models.CustodyModeSelf {
		return RespondError(c, ErrValidation("custody_mode must be %q or %q", models.CustodyModeCustodial, models.CustodyModeSelf))
	}

	if (body.SocialProvider == "") != (body.SocialSubject == "") {
		return RespondError(c, ErrValidation("social_provider and social_subject must be supplied together"))
	}

	var existing models.User
	err := s.DB.Where("email = ? OR wallet_address = ?", body.Email, body.WalletAddress).
		First(&existing).Error
	if err == nil {
		return RespondError(c, ErrStateConflict("an account with this email or wallet already exists"))
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return RespondError(c, err)
	}

	user := models.User{
		ID:            uuid.NewString(),
		Email:         body.Email,
		WalletAddress: body.WalletAddress,
		CustodyMode:   custody,
		Nickname:      body.Nickname,
		AvatarURL:     body.AvatarURL,
		Region:        body.Region,
	}
	// Wallet-only signups carry no social identity at all
	if body.SocialProvider != "" {
		var dup models.User
		err := s.DB.Where("social_provider = ? AND social_subject = ?",
			body.SocialProvider, body.SocialSubject).First(&dup).Error
		if err == nil {
			return RespondError(c, ErrStateConflict("an account with this social identity already exists"))
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, err)
		}
		user.SocialProvider = &body.SocialProvider
		user.SocialSubject = &body.SocialSubject
	}
	if err := s.DB.Create(&user).Error; err != nil {
		log.Printf("❌ Failed to create user: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create user"})
	}

	log.Printf("✅ User created: %s (%s)", user.ID, user.Email)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user})
}

// ListUsers handles GET /users.
func (s *UserService) ListUsers(c *fiber.Ctx) error {
	var users []models.User
	if err := s.DB.Order("created_at DESC").Limit(100).Find(&users).Error; err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"users": users, "count": len(users)})
}

// GetUser handles GET /users/:id.
func (s *UserService) GetUser(c *fiber.Ctx) error {
	var user models.User
	if err := s.DB.First(&user, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("user not found"))
		}
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"user": user})
}

// GetUserByWallet handles GET /users/wallet/:address. The response carries
// the mirrored on-chain balance for the address when the wallet sync worker
// has seen it; the chain stays authoritative, this is the projection.
func (s *UserService) GetUserByWallet(c *fiber.Ctx) error {
	address := c.Params("address")

	var user models.User
	if err := s.DB.First(&user, "wallet_address = ?", address).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("no user for this wallet"))
		}
		return RespondError(c, err)
	}

	resp := fiber.Map{"user": user}
	var mirror models.WalletMirror
	err := s.DB.First(&mirror, "address = ?", address).Error
	if err == nil {
		resp["wallet"] = mirror
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return RespondError(c, err)
	}
	return c.JSON(resp)
}

// GetMe handles GET /s/users/me.
func (s *UserService) GetMe(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RespondError(c, ErrNotFound("user not found"))
		}
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"user": user})
}

// UpdateMe handles PATCH /s/users/me. Only profile metadata is writable;
// identity fields never change after signup.
func (s *UserService) UpdateMe(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user context missing"})
	}

	var body struct {
		Nickname  *string `json:"nickname"`
		AvatarURL *string `json:"avatar_url"`
		Region    *string `json:"region"`
		Bio       *string `json:"bio"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	updates := map[string]interface{}{}
	if body.Nickname != nil {
		updates["nickname"] = *body.Nickname
	}
	if body.AvatarURL != nil {
		updates["avatar_url"] = *body.AvatarURL
	}
	if body.Region != nil {
		updates["region"] = *body.Region
	}
	if body.Bio != nil {
		updates["bio"] = *body.Bio
	}
	if len(updates) == 0 {
		return RespondError(c, ErrValidation("no updatable fields supplied"))
	}

	result := s.DB.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return RespondError(c, result.Error)
	}
	if result.RowsAffected == 0 {
		return RespondError(c, ErrNotFound("user not found"))
	}

	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"user": user})
}
