package handler

import (
	"context"
	"encoding/json"
	"log"
	"strconv"

	"github.com/gofiber/contrib/websocket"

	"meetlink-backend/internal/realtime"
)

// StatusWSHandler relays the meeting status feed to browsers. It only
// pushes; a client that needs current state fetches the meeting first,
// then holds this socket for the termination signal.
type StatusWSHandler struct {
	channel *realtime.Channel
	hub     *wsHub
}

// NewStatusWSHandler StatusWSHandler 생성
func NewStatusWSHandler(channel *realtime.Channel) *StatusWSHandler {
	return &StatusWSHandler{channel: channel, hub: newWSHub()}
}

// statusEvent WS로 내려가는 상태 이벤트
type statusEvent struct {
	Type      string `json:"type"`
	MeetingID int64  `json:"meeting_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// HandleWebSocket WebSocket 연결 처리
func (h *StatusWSHandler) HandleWebSocket(c *websocket.Conn) {
	meetingID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"invalid meeting id"}`))
		c.Close()
		return
	}

	err = h.hub.join(meetingID, c, func(broadcast func([]byte)) (func(), error) {
		return h.channel.SubscribeStatus(context.Background(), meetingID, func(status, reason string) {
			data, err := json.Marshal(statusEvent{
				Type:      "status",
				MeetingID: meetingID,
				Status:    status,
				Reason:    reason,
			})
			if err != nil {
				return
			}
			broadcast(data)
		})
	})
	if err != nil {
		log.Printf("상태 구독 실패: meeting=%d, %v", meetingID, err)
		c.Close()
		return
	}

	log.Printf("상태 클라이언트 연결: meeting=%d", meetingID)

	defer func() {
		h.hub.leave(meetingID, c)
		c.Close()
		log.Printf("상태 클라이언트 연결 해제: meeting=%d", meetingID)
	}()

	// 수신 루프 (연결 종료 감지용)
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}
