package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"meetlink-backend/internal/model"
)

var (
	ErrLinkNotFound    = errors.New("link not found")
	ErrLinkExpired     = errors.New("link expired")
	ErrLinkUsed        = errors.New("link already used")
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrMeetingEnded    = errors.New("meeting already ended")
)

// LinkCheck is the read-only view a link resolves to, shown to the
// holder before any media is acquired.
type LinkCheck struct {
	Token        string     `json:"token"`
	MeetingID    int64      `json:"meeting_id"`
	MeetingTitle string     `json:"meeting_title"`
	HostName     string     `json:"host_name"`
	Status       string     `json:"status"`
	AutoEndAt    *time.Time `json:"auto_end_at,omitempty"`
}

// MeetingStore owns every durable transition of meetings and their
// single-use links. All shared-state writes are conditional UPDATEs
// guarded by the current state; concurrent writers race on
// RowsAffected, never on a read-then-write gap.
type MeetingStore struct {
	db         *gorm.DB
	linkExpiry time.Duration
}

// NewMeetingStore MeetingStore 생성
func NewMeetingStore(db *gorm.DB, linkExpiry time.Duration) *MeetingStore {
	return &MeetingStore{db: db, linkExpiry: linkExpiry}
}

// CreateMeeting schedules a meeting and mints its single-use join link.
func (s *MeetingStore) CreateMeeting(ctx context.Context, hostID, hostName, title string) (*model.Meeting, *model.MeetingLink, error) {
	meeting := model.Meeting{
		HostID:   hostID,
		HostName: hostName,
		Title:    title,
		Status:   model.MeetingStatusScheduled.String(),
	}
	if err := s.db.WithContext(ctx).Create(&meeting).Error; err != nil {
		return nil, nil, err
	}

	link := model.MeetingLink{
		Token:     uuid.NewString(),
		MeetingID: meeting.ID,
		OneTime:   true,
	}
	if s.linkExpiry > 0 {
		expires := time.Now().Add(s.linkExpiry)
		link.ExpiresAt = &expires
	}
	if err := s.db.WithContext(ctx).Create(&link).Error; err != nil {
		return nil, nil, err
	}

	return &meeting, &link, nil
}

// ValidateLink is the non-destructive check: it reports whether the
// token is still good without touching its consumption state.
func (s *MeetingStore) ValidateLink(ctx context.Context, token string) (*LinkCheck, error) {
	var link model.MeetingLink
	err := s.db.WithContext(ctx).
		Preload("Meeting").
		Where("token = ?", token).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}

	return s.check(&link)
}

// ConsumeLink marks a one-time link used on an actual join attempt.
// The unused→used transition is a single conditional UPDATE; of N
// concurrent attempts exactly one observes RowsAffected == 1, the rest
// get ErrLinkUsed. Reusable links pass the same checks but are never
// consumed.
func (s *MeetingStore) ConsumeLink(ctx context.Context, token string) (*LinkCheck, error) {
	var link model.MeetingLink
	err := s.db.WithContext(ctx).
		Preload("Meeting").
		Where("token = ?", token).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}

	check, err := s.check(&link)
	if err != nil {
		return nil, err
	}
	if !link.OneTime {
		return check, nil
	}

	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&model.MeetingLink{}).
		Where("token = ? AND consumed = ?", token, false).
		Updates(map[string]interface{}{
			"consumed":    true,
			"consumed_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrLinkUsed
	}

	return check, nil
}

// check evaluates a loaded link. Expiry is checked before consumption
// state so an expired-and-used link reports expired.
func (s *MeetingStore) check(link *model.MeetingLink) (*LinkCheck, error) {
	if link.ExpiresAt != nil && time.Now().After(*link.ExpiresAt) {
		return nil, ErrLinkExpired
	}
	if link.OneTime && link.Consumed {
		return nil, ErrLinkUsed
	}
	if link.Meeting.Status == model.MeetingStatusEnded.String() {
		return nil, ErrMeetingEnded
	}

	return &LinkCheck{
		Token:        link.Token,
		MeetingID:    link.MeetingID,
		MeetingTitle: link.Meeting.Title,
		HostName:     link.Meeting.HostName,
		Status:       link.Meeting.Status,
		AutoEndAt:    link.Meeting.AutoEndAt,
	}, nil
}

// ActivateMeeting transitions SCHEDULED→ACTIVE on the first join and
// fixes the auto-end instant. Later joiners lose the conditional
// update and receive the stored instant; the instant is never
// recomputed.
func (s *MeetingStore) ActivateMeeting(ctx context.Context, meetingID int64, duration time.Duration) (*model.Meeting, error) {
	now := time.Now()
	autoEnd := now.Add(duration)

	res := s.db.WithContext(ctx).
		Model(&model.Meeting{}).
		Where("id = ? AND status = ?", meetingID, model.MeetingStatusScheduled.String()).
		Updates(map[string]interface{}{
			"status":      model.MeetingStatusActive.String(),
			"started_at":  now,
			"auto_end_at": autoEnd,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	var meeting model.Meeting
	err := s.db.WithContext(ctx).First(&meeting, meetingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMeetingNotFound
	}
	if err != nil {
		return nil, err
	}
	if meeting.Status == model.MeetingStatusEnded.String() {
		return nil, ErrMeetingEnded
	}

	return &meeting, nil
}

// EndMeeting performs the terminal ACTIVE→ENDED write. Returns false
// without error when another caller already won the transition; the
// losing attempt changes nothing.
func (s *MeetingStore) EndMeeting(ctx context.Context, meetingID int64, reason model.EndReason, durationSeconds int64) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&model.Meeting{}).
		Where("id = ? AND status = ?", meetingID, model.MeetingStatusActive.String()).
		Updates(map[string]interface{}{
			"status":           model.MeetingStatusEnded.String(),
			"ended_at":         now,
			"end_reason":       reason.String(),
			"duration_seconds": durationSeconds,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetMeeting 미팅 조회
func (s *MeetingStore) GetMeeting(ctx context.Context, meetingID int64) (*model.Meeting, error) {
	var meeting model.Meeting
	err := s.db.WithContext(ctx).
		Preload("Participants").
		First(&meeting, meetingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMeetingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &meeting, nil
}

// RecordJoin 참가 기록 생성
func (s *MeetingStore) RecordJoin(ctx context.Context, meetingID int64, identity, displayName string) error {
	participant := model.MeetingParticipant{
		MeetingID:   meetingID,
		Identity:    identity,
		DisplayName: displayName,
	}
	return s.db.WithContext(ctx).Create(&participant).Error
}

// RecordLeave closes the participant's open join record and returns
// how many participants remain connected. Zero remaining is the
// server-side all-left signal.
func (s *MeetingStore) RecordLeave(ctx context.Context, meetingID int64, identity string) (int64, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&model.MeetingParticipant{}).
		Where("meeting_id = ? AND identity = ? AND left_at IS NULL", meetingID, identity).
		Update("left_at", now)
	if res.Error != nil {
		return 0, res.Error
	}

	var remaining int64
	err := s.db.WithContext(ctx).
		Model(&model.MeetingParticipant{}).
		Where("meeting_id = ? AND left_at IS NULL", meetingID).
		Count(&remaining).Error
	if err != nil {
		return 0, err
	}
	return remaining, nil
}
