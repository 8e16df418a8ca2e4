package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"meetlink-backend/internal/model"
)

// StatusMessage is the out-of-band termination signal carried on the
// meeting-scoped channel: host force-end or server-side all-left
// detection, pushed to every connected client without polling.
type StatusMessage struct {
	MeetingID int64  `json:"meeting_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// Channel wraps the redis pub/sub fan-out for meeting status and chat.
// One publish reaches every server instance; the WS relays forward to
// browsers from there.
type Channel struct {
	client *redis.Client
}

// NewChannel creates the redis client and verifies the connection.
func NewChannel(addr, password string, db int) (*Channel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Realtime] Connected to %s", addr)
	return &Channel{client: client}, nil
}

func statusChannel(meetingID int64) string {
	return fmt.Sprintf("meeting:%d:status", meetingID)
}

func chatChannel(meetingID int64) string {
	return fmt.Sprintf("meeting:%d:chat", meetingID)
}

// PublishStatus 미팅 상태 변경 이벤트 발행
func (c *Channel) PublishStatus(ctx context.Context, msg StatusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, statusChannel(msg.MeetingID), data).Err()
}

// SubscribeStatus subscribes to one meeting's status channel. The
// returned func unsubscribes; it is safe to call more than once.
func (c *Channel) SubscribeStatus(ctx context.Context, meetingID int64, onChange func(status, reason string)) (func(), error) {
	sub := c.client.Subscribe(ctx, statusChannel(meetingID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	go func() {
		for raw := range sub.Channel() {
			var msg StatusMessage
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				continue
			}
			onChange(msg.Status, msg.Reason)
		}
	}()

	return func() {
		if err := sub.Close(); err != nil && err != redis.ErrClosed {
			log.Printf("[Realtime] status unsubscribe: %v", err)
		}
	}, nil
}

// PublishChat 채팅 메시지 삽입 이벤트 발행
func (c *Channel) PublishChat(ctx context.Context, message *model.ChatMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, chatChannel(message.MeetingID), data).Err()
}

// SubscribeChat subscribes to one meeting's chat inserts.
func (c *Channel) SubscribeChat(ctx context.Context, meetingID int64, onInsert func(model.ChatMessage)) (func(), error) {
	sub := c.client.Subscribe(ctx, chatChannel(meetingID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	go func() {
		for raw := range sub.Channel() {
			var message model.ChatMessage
			if err := json.Unmarshal([]byte(raw.Payload), &message); err != nil {
				continue
			}
			onInsert(message)
		}
	}()

	return func() {
		if err := sub.Close(); err != nil && err != redis.ErrClosed {
			log.Printf("[Realtime] chat unsubscribe: %v", err)
		}
	}, nil
}

// Close 연결 종료
func (c *Channel) Close() error {
	return c.client.Close()
}
