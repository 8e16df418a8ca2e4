package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"meetlink-backend/internal/config"
	"meetlink-backend/internal/model"
	"meetlink-backend/internal/realtime"
	"meetlink-backend/internal/store"
)

// JoinResult 입장 승인 응답 (토큰 발급 + 권위 있는 종료 시각 포함)
type JoinResult struct {
	MeetingID     int64     `json:"meeting_id"`
	Title         string    `json:"title"`
	HostName      string    `json:"host_name"`
	RoomName      string    `json:"room_name"`
	ProviderURL   string    `json:"provider_url"`
	ProviderToken string    `json:"provider_token"`
	AutoEndAt     time.Time `json:"auto_end_at"`
}

// MeetingService 미팅 수명주기 오케스트레이션 (링크 소비, 활성화, 종료)
type MeetingService struct {
	meetings *store.MeetingStore
	channel  *realtime.Channel
	cfg      *config.Config
}

// NewMeetingService MeetingService 생성
func NewMeetingService(meetings *store.MeetingStore, channel *realtime.Channel, cfg *config.Config) *MeetingService {
	return &MeetingService{meetings: meetings, channel: channel, cfg: cfg}
}

func roomName(meetingID int64) string {
	return fmt.Sprintf("meeting-%d", meetingID)
}

// CreateMeeting 미팅과 1회용 입장 링크 생성
func (s *MeetingService) CreateMeeting(ctx context.Context, hostID, hostName, title string) (*model.Meeting, *model.MeetingLink, error) {
	return s.meetings.CreateMeeting(ctx, hostID, hostName, title)
}

// ValidateLink 링크 미리보기 (소비하지 않음)
func (s *MeetingService) ValidateLink(ctx context.Context, token string) (*store.LinkCheck, error) {
	return s.meetings.ValidateLink(ctx, token)
}

// GetMeeting 미팅 조회
func (s *MeetingService) GetMeeting(ctx context.Context, meetingID int64) (*model.Meeting, error) {
	return s.meetings.GetMeeting(ctx, meetingID)
}

// JoinMeeting consumes the link, activates the meeting on first join,
// records the participant, and mints a provider token. The returned
// AutoEndAt comes from the activation row: every joiner counts down to
// the same server-fixed instant.
func (s *MeetingService) JoinMeeting(ctx context.Context, token, participantID, participantName string) (*JoinResult, error) {
	check, err := s.meetings.ConsumeLink(ctx, token)
	if err != nil {
		return nil, err
	}

	meeting, err := s.meetings.ActivateMeeting(ctx, check.MeetingID, s.cfg.Meeting.Duration)
	if err != nil {
		return nil, err
	}
	if meeting.AutoEndAt == nil {
		return nil, store.ErrMeetingEnded
	}

	if err := s.meetings.RecordJoin(ctx, meeting.ID, participantID, participantName); err != nil {
		return nil, err
	}

	providerToken, err := s.mintToken(roomName(meeting.ID), participantID, participantName)
	if err != nil {
		return nil, err
	}

	log.Printf("[Meeting] %s joined meeting %d (auto end %s)", participantID, meeting.ID, meeting.AutoEndAt.Format(time.RFC3339))
	return &JoinResult{
		MeetingID:     meeting.ID,
		Title:         meeting.Title,
		HostName:      meeting.HostName,
		RoomName:      roomName(meeting.ID),
		ProviderURL:   s.cfg.LiveKit.Host,
		ProviderToken: providerToken,
		AutoEndAt:     *meeting.AutoEndAt,
	}, nil
}

// mintToken LiveKit 접근 토큰 발급
func (s *MeetingService) mintToken(room, identity, name string) (string, error) {
	at := auth.NewAccessToken(s.cfg.LiveKit.APIKey, s.cfg.LiveKit.APISecret)

	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}

	at.AddGrant(grant).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(s.cfg.Meeting.Duration + time.Hour)

	return at.ToJWT()
}

// EndMeeting performs the terminal write. Only the caller that wins
// the ACTIVE→ENDED race publishes and tears the provider room down;
// every losing duplicate returns success with nothing to do.
func (s *MeetingService) EndMeeting(ctx context.Context, meetingID int64, participantID string, reason model.EndReason, durationSeconds int64) error {
	won, err := s.meetings.EndMeeting(ctx, meetingID, reason, durationSeconds)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	log.Printf("[Meeting] meeting %d ended by %s (%s)", meetingID, participantID, reason)

	if err := s.channel.PublishStatus(ctx, realtime.StatusMessage{
		MeetingID: meetingID,
		Status:    model.MeetingStatusEnded.String(),
		Reason:    reason.String(),
	}); err != nil {
		log.Printf("[Meeting] status publish failed for meeting %d: %v", meetingID, err)
	}

	s.deleteRoom(ctx, meetingID)
	return nil
}

// LeaveMeeting closes the participant record. When the last open
// record closes the meeting ends server-side with reason all_left,
// covering clients that vanished without a terminal write.
func (s *MeetingService) LeaveMeeting(ctx context.Context, meetingID int64, identity string) error {
	remaining, err := s.meetings.RecordLeave(ctx, meetingID, identity)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	meeting, err := s.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	var duration int64
	if meeting.StartedAt != nil {
		duration = int64(time.Since(*meeting.StartedAt).Seconds())
	}
	return s.EndMeeting(ctx, meetingID, identity, model.EndReasonAllLeft, duration)
}

// deleteRoom kicks remaining provider connections. Best effort: the
// meeting row is already terminal and clients end on the status signal.
func (s *MeetingService) deleteRoom(ctx context.Context, meetingID int64) {
	roomClient := lksdk.NewRoomServiceClient(
		s.cfg.LiveKit.Host,
		s.cfg.LiveKit.APIKey,
		s.cfg.LiveKit.APISecret,
	)
	_, err := roomClient.DeleteRoom(ctx, &livekit.DeleteRoomRequest{
		Room: roomName(meetingID),
	})
	if err != nil {
		log.Printf("[Meeting] provider room delete failed for meeting %d: %v", meetingID, err)
	}
}
