package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"meetlink-backend/internal/model"
)

// ChatStore 미팅 채팅 메시지 저장소
type ChatStore struct {
	db *gorm.DB
}

// NewChatStore ChatStore 생성
func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{db: db}
}

// Insert persists one immutable message and returns the stored row.
// Senders never fabricate a local copy; the record that comes back
// here is the only version that exists.
func (s *ChatStore) Insert(ctx context.Context, meetingID int64, senderID, senderName, body string) (*model.ChatMessage, error) {
	message := model.ChatMessage{
		ID:         uuid.NewString(),
		MeetingID:  meetingID,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

// ListByMeeting 미팅의 메시지 목록 (생성 시각 순)
func (s *ChatStore) ListByMeeting(ctx context.Context, meetingID int64) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := s.db.WithContext(ctx).
		Where("meeting_id = ?", meetingID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
