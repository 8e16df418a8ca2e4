package handler

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/contrib/websocket"

	"meetlink-backend/internal/auth"
	"meetlink-backend/internal/model"
	"meetlink-backend/internal/service"
)

// ChatWSHandler WebSocket 채팅 핸들러
type ChatWSHandler struct {
	chat *service.ChatService
	hub  *wsHub
}

// NewChatWSHandler ChatWSHandler 생성
func NewChatWSHandler(chat *service.ChatService) *ChatWSHandler {
	return &ChatWSHandler{chat: chat, hub: newWSHub()}
}

// chatWSMessage 클라이언트 → 서버 메시지
type chatWSMessage struct {
	Type string `json:"type"` // message
	Body string `json:"body"`
}

// chatEvent 서버 → 클라이언트 이벤트
type chatEvent struct {
	Type    string            `json:"type"`
	Message model.ChatMessage `json:"message"`
}

// HandleWebSocket WebSocket 연결 처리
func (h *ChatWSHandler) HandleWebSocket(c *websocket.Conn) {
	meetingID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"invalid meeting id"}`))
		c.Close()
		return
	}

	claims, ok := c.Locals("claims").(*auth.Claims)
	if !ok {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"invalid session"}`))
		c.Close()
		return
	}

	// Outgoing messages come from the insert feed, the same path every
	// server instance sees. The sender's own message arrives here too.
	err = h.hub.join(meetingID, c, func(broadcast func([]byte)) (func(), error) {
		return h.chat.SubscribeInserts(context.Background(), meetingID, func(message model.ChatMessage) {
			data, err := json.Marshal(chatEvent{Type: "message", Message: message})
			if err != nil {
				return
			}
			broadcast(data)
		})
	})
	if err != nil {
		log.Printf("채팅 구독 실패: meeting=%d, %v", meetingID, err)
		c.Close()
		return
	}

	log.Printf("채팅 클라이언트 연결: meeting=%d, user=%s", meetingID, claims.UserID)

	defer func() {
		h.hub.leave(meetingID, c)
		c.Close()
		log.Printf("채팅 클라이언트 연결 해제: meeting=%d, user=%s", meetingID, claims.UserID)
	}()

	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			break
		}

		var msg chatWSMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			continue
		}
		if msg.Type != "message" {
			continue
		}

		body := strings.TrimSpace(msg.Body)
		if body == "" {
			continue
		}
		body = truncateBody(body)

		if _, err := h.chat.Insert(context.Background(), meetingID, claims.UserID, claims.DisplayName, body); err != nil {
			log.Printf("채팅 저장 실패: meeting=%d, %v", meetingID, err)
		}
	}
}
