package handler

import (
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"meetlink-backend/internal/auth"
)

// AuthHandler 인증 핸들러
//
// 링크로 들어오는 방문자에게는 계정이 없다. 게스트 로그인이 표시
// 이름만 받아 신원(uuid)과 액세스 토큰을 발급하고, 이후의 모든
// 인증 라우트는 그 토큰을 사용한다.
type AuthHandler struct {
	jwtManager  *auth.JWTManager
	tokenExpiry time.Duration
}

// NewAuthHandler AuthHandler 생성
func NewAuthHandler(jwtManager *auth.JWTManager, tokenExpiry time.Duration) *AuthHandler {
	return &AuthHandler{jwtManager: jwtManager, tokenExpiry: tokenExpiry}
}

// GuestLoginRequest 게스트 로그인 요청
type GuestLoginRequest struct {
	DisplayName string `json:"display_name"`
}

// GuestLogin 게스트 신원 + 액세스 토큰 발급
func (h *AuthHandler) GuestLogin(c *fiber.Ctx) error {
	var req GuestLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "display_name is required",
		})
	}
	if len(displayName) > 100 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "display_name too long",
		})
	}

	userID := uuid.NewString()
	token, err := h.jwtManager.GenerateAccessToken(userID, displayName)
	if err != nil {
		log.Printf("토큰 발급 실패: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to issue token",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    token,
		Expires:  time.Now().Add(h.tokenExpiry),
		HTTPOnly: true,
		SameSite: "Lax",
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"access_token": token,
		"user_id":      userID,
		"display_name": displayName,
	})
}
