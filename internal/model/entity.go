package model

import (
	"time"
)

// Meeting 화상 회의
//
// auto_end_at은 첫 참가자가 입장하는 순간 한 번만 결정되고 이후 절대
// 재계산되지 않는다. 상태 전이는 SCHEDULED → ACTIVE → ENDED 단방향.
type Meeting struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	HostID          string     `gorm:"type:varchar(100);not null" json:"host_id"`
	HostName        string     `gorm:"type:varchar(100);not null" json:"host_name"`
	Title           string     `gorm:"type:varchar(200);not null" json:"title"`
	Status          string     `gorm:"type:varchar(20);default:'SCHEDULED'" json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	AutoEndAt       *time.Time `json:"auto_end_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	EndReason       *string    `gorm:"type:varchar(20)" json:"end_reason,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Links        []MeetingLink        `gorm:"foreignKey:MeetingID" json:"links,omitempty"`
	Participants []MeetingParticipant `gorm:"foreignKey:MeetingID" json:"participants,omitempty"`
	ChatMessages []ChatMessage        `gorm:"foreignKey:MeetingID" json:"chat_messages,omitempty"`
}

func (Meeting) TableName() string {
	return "meetings"
}

// MeetingLink 1회용 입장 링크
//
// consumed는 정확히 한 번, 조건부 UPDATE로만 true가 된다.
type MeetingLink struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Token      string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"token"`
	MeetingID  int64      `gorm:"not null;index" json:"meeting_id"`
	OneTime    bool       `gorm:"default:true" json:"one_time"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Consumed   bool       `gorm:"default:false" json:"consumed"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Meeting Meeting `gorm:"foreignKey:MeetingID" json:"meeting,omitempty"`
}

func (MeetingLink) TableName() string {
	return "meeting_links"
}

// MeetingParticipant 미팅 참가 기록
type MeetingParticipant struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	MeetingID   int64      `gorm:"not null;index" json:"meeting_id"`
	Identity    string     `gorm:"type:varchar(100);not null" json:"identity"`
	DisplayName string     `gorm:"type:varchar(100);not null" json:"display_name"`
	JoinedAt    time.Time  `gorm:"autoCreateTime" json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`

	// Relations
	Meeting Meeting `gorm:"foreignKey:MeetingID" json:"meeting,omitempty"`
}

func (MeetingParticipant) TableName() string {
	return "meeting_participants"
}

// ChatMessage 미팅 채팅 메시지 (생성 후 불변)
type ChatMessage struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	MeetingID  int64     `gorm:"not null;index:idx_chat_messages_meeting_created" json:"meeting_id"`
	SenderID   string    `gorm:"type:varchar(100);not null" json:"sender_id"`
	SenderName string    `gorm:"type:varchar(100);not null" json:"sender_name"`
	Body       string    `gorm:"type:text;not null" json:"body"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index:idx_chat_messages_meeting_created" json:"created_at"`

	// Relations
	Meeting Meeting `gorm:"foreignKey:MeetingID" json:"meeting,omitempty"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
