package handler

import (
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// wsRoom 미팅 하나의 WS 클라이언트 집합
type wsRoom struct {
	clients     map[*websocket.Conn]bool
	unsubscribe func()
	mu          sync.RWMutex
}

// wsHub groups connections per meeting. The first client in a room
// opens the backing feed subscription; the last one out closes it.
type wsHub struct {
	rooms map[int64]*wsRoom
	mu    sync.Mutex
}

func newWSHub() *wsHub {
	return &wsHub{rooms: make(map[int64]*wsRoom)}
}

// join registers the connection. subscribe runs only for the first
// client and receives the room broadcast func.
func (h *wsHub) join(meetingID int64, conn *websocket.Conn, subscribe func(broadcast func([]byte)) (func(), error)) error {
	h.mu.Lock()
	room, ok := h.rooms[meetingID]
	if !ok {
		room = &wsRoom{clients: make(map[*websocket.Conn]bool)}
		unsubscribe, err := subscribe(func(data []byte) {
			h.broadcast(meetingID, data)
		})
		if err != nil {
			h.mu.Unlock()
			return err
		}
		room.unsubscribe = unsubscribe
		h.rooms[meetingID] = room
	}
	h.mu.Unlock()

	room.mu.Lock()
	room.clients[conn] = true
	room.mu.Unlock()
	return nil
}

// leave unregisters the connection and tears the room down when empty.
func (h *wsHub) leave(meetingID int64, conn *websocket.Conn) {
	h.mu.Lock()
	room, ok := h.rooms[meetingID]
	if !ok {
		h.mu.Unlock()
		return
	}

	room.mu.Lock()
	delete(room.clients, conn)
	empty := len(room.clients) == 0
	room.mu.Unlock()

	if empty {
		delete(h.rooms, meetingID)
	}
	h.mu.Unlock()

	if empty && room.unsubscribe != nil {
		room.unsubscribe()
	}
}

// broadcast 미팅의 모든 클라이언트에게 전송
func (h *wsHub) broadcast(meetingID int64, data []byte) {
	h.mu.Lock()
	room, ok := h.rooms[meetingID]
	h.mu.Unlock()
	if !ok {
		return
	}

	room.mu.RLock()
	defer room.mu.RUnlock()
	for conn := range room.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("WS 전송 실패: %v", err)
		}
	}
}
