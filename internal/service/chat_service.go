package service

import (
	"context"
	"log"

	"meetlink-backend/internal/model"
	"meetlink-backend/internal/realtime"
	"meetlink-backend/internal/store"
)

// ChatService composes the durable message store with the redis insert
// feed: writes go to the DB first, then fan out. It satisfies what a
// chat session needs (insert, history, live feed) in one place.
type ChatService struct {
	messages *store.ChatStore
	channel  *realtime.Channel
}

// NewChatService ChatService 생성
func NewChatService(messages *store.ChatStore, channel *realtime.Channel) *ChatService {
	return &ChatService{messages: messages, channel: channel}
}

// Insert persists the message, then publishes the stored row. Readers
// only ever see the canonical DB record; a publish failure just means
// feeds catch up on their next history load.
func (s *ChatService) Insert(ctx context.Context, meetingID int64, senderID, senderName, body string) (*model.ChatMessage, error) {
	message, err := s.messages.Insert(ctx, meetingID, senderID, senderName, body)
	if err != nil {
		return nil, err
	}
	if err := s.channel.PublishChat(ctx, message); err != nil {
		log.Printf("[Chat] publish failed for meeting %d: %v", meetingID, err)
	}
	return message, nil
}

// ListByMeeting 채팅 이력 조회
func (s *ChatService) ListByMeeting(ctx context.Context, meetingID int64) ([]model.ChatMessage, error) {
	return s.messages.ListByMeeting(ctx, meetingID)
}

// SubscribeInserts 미팅 채팅 삽입 피드 구독
func (s *ChatService) SubscribeInserts(ctx context.Context, meetingID int64, onInsert func(model.ChatMessage)) (func(), error) {
	return s.channel.SubscribeChat(ctx, meetingID, onInsert)
}
