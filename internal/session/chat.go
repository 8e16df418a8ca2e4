package session

import (
	"context"
	"sort"
	"sync"

	"meetlink-backend/internal/model"
)

// ChatStore is what a chat session needs from the backend: persistence
// plus an insert feed. The server composes the DB store and the redis
// channel into one implementation.
type ChatStore interface {
	Insert(ctx context.Context, meetingID int64, senderID, senderName, body string) (*model.ChatMessage, error)
	ListByMeeting(ctx context.Context, meetingID int64) ([]model.ChatMessage, error)
	SubscribeInserts(ctx context.Context, meetingID int64, onInsert func(model.ChatMessage)) (func(), error)
}

// ChatSession holds the merged chat view for one meeting: the history
// loaded at open plus every insert received since, deduplicated by
// message id and ordered by creation time.
type ChatSession struct {
	store     ChatStore
	meetingID int64
	onMessage func(model.ChatMessage)

	mu          sync.Mutex
	messages    []model.ChatMessage
	seen        map[string]bool
	unsubscribe func()
	closed      bool
}

// OpenChat subscribes first and loads history second. The other order
// has a gap: a message inserted between the load and the subscribe
// would never arrive. Overlap is fine, duplicates are dropped by id.
func OpenChat(ctx context.Context, store ChatStore, meetingID int64, onMessage func(model.ChatMessage)) (*ChatSession, error) {
	s := &ChatSession{
		store:     store,
		meetingID: meetingID,
		onMessage: onMessage,
		seen:      make(map[string]bool),
	}

	unsubscribe, err := store.SubscribeInserts(ctx, meetingID, s.receive)
	if err != nil {
		return nil, err
	}
	s.unsubscribe = unsubscribe

	history, err := store.ListByMeeting(ctx, meetingID)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	s.mu.Lock()
	for _, message := range history {
		s.add(message)
	}
	s.mu.Unlock()

	return s, nil
}

// receive handles one live insert.
func (s *ChatSession) receive(message model.ChatMessage) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	added := s.add(message)
	s.mu.Unlock()

	if added && s.onMessage != nil {
		s.onMessage(message)
	}
}

// add inserts in created-at order. Caller holds mu.
func (s *ChatSession) add(message model.ChatMessage) bool {
	if s.seen[message.ID] {
		return false
	}
	s.seen[message.ID] = true
	s.messages = append(s.messages, message)
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
	return true
}

// Send persists the message and nothing else. The sender sees its own
// message only when the stored record comes back over the feed, so
// every client renders the same canonical row.
func (s *ChatSession) Send(ctx context.Context, senderID, senderName, body string) error {
	_, err := s.store.Insert(ctx, s.meetingID, senderID, senderName, body)
	return err
}

// Messages 현재 병합된 메시지 목록 (복사본)
func (s *ChatSession) Messages() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatMessage(nil), s.messages...)
}

// Close unsubscribes. Safe to call more than once.
func (s *ChatSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
