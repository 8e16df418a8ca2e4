package handler

import (
	"log"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"meetlink-backend/internal/auth"
	"meetlink-backend/internal/service"
)

const maxChatBodyLen = 2000

// truncateBody caps the message at maxChatBodyLen bytes, backing up to
// a rune boundary so the stored text stays valid UTF-8.
func truncateBody(s string) string {
	if len(s) <= maxChatBodyLen {
		return s
	}
	cut := maxChatBodyLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ChatHandler 미팅 채팅 REST 핸들러
type ChatHandler struct {
	chat *service.ChatService
}

// NewChatHandler ChatHandler 생성
func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// SendMessageRequest 채팅 전송 요청
type SendMessageRequest struct {
	Body string `json:"body"`
}

// GetHistory 미팅의 채팅 이력 (생성 시각 순)
func (h *ChatHandler) GetHistory(c *fiber.Ctx) error {
	meetingID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid meeting id",
		})
	}

	messages, err := h.chat.ListByMeeting(c.Context(), int64(meetingID))
	if err != nil {
		log.Printf("채팅 이력 조회 실패: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get chat history",
		})
	}

	return c.JSON(fiber.Map{
		"messages": messages,
		"total":    len(messages),
	})
}

// SendMessage persists one message. The stored row comes back in the
// response and over the feed; clients never render a local draft copy.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	meetingID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid meeting id",
		})
	}

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	body := strings.TrimSpace(req.Body)
	if body == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body is required",
		})
	}
	body = truncateBody(body)

	message, err := h.chat.Insert(c.Context(), int64(meetingID), claims.UserID, claims.DisplayName, body)
	if err != nil {
		log.Printf("채팅 저장 실패: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to send message",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(message)
}
