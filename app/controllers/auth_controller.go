package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/database"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/hcaptcha"
)

type registerRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleAPIRegister creates an account and returns its API key. The key is
// only ever returned here; we store the hash.
func HandleAPIRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body could not be parsed")
	}

	if hcaptcha.Enabled() {
		if ok, err := hcaptcha.Verify(req.CaptchaToken); !ok {
			log.Warnf("[Auth] captcha rejected: %v", err)
			return jsonError(c, fiber.StatusForbidden, "captcha_failed", "Captcha verification failed")
		}
	}

	user, err := models.CreateUser(strings.TrimSpace(req.Username), strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	apiKey, hash, err := models.GenerateAPIKey()
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to generate API key")
	}
	user.APIKeyHash = hash

	db := database.GetDB()
	if err := db.Create(user).Error; err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return jsonError(c, fiber.StatusConflict, "email_taken", "An account with this email already exists")
		}
		log.Errorf("[Auth] register: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Registration failed")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user_id": user.ID,
		"api_key": apiKey,
	})
}

// HandleAPILogin verifies credentials and rotates the account's API key.
func HandleAPILogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body could not be parsed")
	}

	db := database.GetDB()
	var user models.User
	err := db.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Invalid credentials")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Login failed")
	}
	if !user.CheckPassword(req.Password) {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Invalid credentials")
	}
	if !user.IsActive() {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "User inactive")
	}

	apiKey, hash, err := models.GenerateAPIKey()
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to generate API key")
	}
	now := time.Now()
	if err := db.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"api_key_hash":  hash,
		"last_login_at": now,
	}).Error; err != nil {
		log.Errorf("[Auth] rotate api key for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Login failed")
	}

	return c.JSON(fiber.Map{
		"user_id": user.ID,
		"api_key": apiKey,
	})
}
