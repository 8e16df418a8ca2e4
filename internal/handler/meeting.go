package handler

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"meetlink-backend/internal/auth"
	"meetlink-backend/internal/model"
	"meetlink-backend/internal/service"
	"meetlink-backend/internal/store"
)

// MeetingHandler 미팅 핸들러
type MeetingHandler struct {
	service *service.MeetingService
}

// NewMeetingHandler MeetingHandler 생성
func NewMeetingHandler(service *service.MeetingService) *MeetingHandler {
	return &MeetingHandler{service: service}
}

// CreateMeetingRequest 미팅 생성 요청
type CreateMeetingRequest struct {
	Title string `json:"title"`
}

// MeetingResponse 미팅 응답
type MeetingResponse struct {
	ID              int64   `json:"id"`
	HostID          string  `json:"host_id"`
	HostName        string  `json:"host_name"`
	Title           string  `json:"title"`
	Status          string  `json:"status"`
	StartedAt       *string `json:"started_at,omitempty"`
	AutoEndAt       *string `json:"auto_end_at,omitempty"`
	EndedAt         *string `json:"ended_at,omitempty"`
	EndReason       *string `json:"end_reason,omitempty"`
	DurationSeconds *int64  `json:"duration_seconds,omitempty"`

	Participants []ParticipantResponse `json:"participants,omitempty"`
}

// ParticipantResponse 참가자 응답
type ParticipantResponse struct {
	Identity    string  `json:"identity"`
	DisplayName string  `json:"display_name"`
	JoinedAt    string  `json:"joined_at"`
	LeftAt      *string `json:"left_at,omitempty"`
}

// LinkResponse 입장 링크 응답
type LinkResponse struct {
	Token     string  `json:"token"`
	OneTime   bool    `json:"one_time"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// EndMeetingRequest 종료 요청
type EndMeetingRequest struct {
	Reason          string `json:"reason"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// CreateMeeting 미팅과 1회용 링크 생성
func (h *MeetingHandler) CreateMeeting(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var req CreateMeetingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title is required",
		})
	}

	meeting, link, err := h.service.CreateMeeting(c.Context(), claims.UserID, claims.DisplayName, req.Title)
	if err != nil {
		log.Printf("미팅 생성 실패: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create meeting",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"meeting": toMeetingResponse(meeting),
		"link":    toLinkResponse(link),
	})
}

// GetMeeting 미팅 조회
func (h *MeetingHandler) GetMeeting(c *fiber.Ctx) error {
	meetingID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid meeting id",
		})
	}

	meeting, err := h.service.GetMeeting(c.Context(), int64(meetingID))
	if err != nil {
		if errors.Is(err, store.ErrMeetingNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "meeting not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get meeting",
		})
	}

	return c.JSON(toMeetingResponse(meeting))
}

// ValidateLink runs the non-destructive link check. Repeating this
// call never consumes the link.
func (h *MeetingHandler) ValidateLink(c *fiber.Ctx) error {
	token := c.Params("token")

	check, err := h.service.ValidateLink(c.Context(), token)
	if err != nil {
		return linkErrorResponse(c, err)
	}

	return c.JSON(check)
}

// JoinMeeting consumes the link and returns the provider token plus
// the fixed auto-end instant.
func (h *MeetingHandler) JoinMeeting(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	token := c.Params("token")

	result, err := h.service.JoinMeeting(c.Context(), token, claims.UserID, claims.DisplayName)
	if err != nil {
		return linkErrorResponse(c, err)
	}

	return c.JSON(result)
}

// EndMeeting 미팅 종료 (중복 호출은 조용히 성공)
func (h *MeetingHandler) EndMeeting(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	meetingID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid meeting id",
		})
	}

	var req EndMeetingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	reason := model.EndReason(req.Reason)
	switch reason {
	case model.EndReasonManual, model.EndReasonTimeLimit, model.EndReasonAllLeft:
	case "":
		reason = model.EndReasonManual
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid end reason",
		})
	}

	if err := h.service.EndMeeting(c.Context(), int64(meetingID), claims.UserID, reason, req.DurationSeconds); err != nil {
		log.Printf("미팅 종료 실패: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to end meeting",
		})
	}

	return c.JSON(fiber.Map{"status": model.MeetingStatusEnded.String()})
}

// LeaveMeeting 퇴장 기록 (마지막 퇴장 시 서버가 종료)
func (h *MeetingHandler) LeaveMeeting(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	meetingID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid meeting id",
		})
	}

	if err := h.service.LeaveMeeting(c.Context(), int64(meetingID), claims.UserID); err != nil {
		log.Printf("퇴장 기록 실패: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to leave meeting",
		})
	}

	return c.JSON(fiber.Map{"left": true})
}

// linkErrorResponse maps link/meeting sentinel errors to statuses the
// client can branch on.
func linkErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrLinkNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "link not found",
		})
	case errors.Is(err, store.ErrLinkExpired):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error": "link expired",
		})
	case errors.Is(err, store.ErrLinkUsed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "link already used",
		})
	case errors.Is(err, store.ErrMeetingEnded):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error": "meeting already ended",
		})
	default:
		log.Printf("링크 처리 실패: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to process link",
		})
	}
}

func toMeetingResponse(m *model.Meeting) MeetingResponse {
	resp := MeetingResponse{
		ID:              m.ID,
		HostID:          m.HostID,
		HostName:        m.HostName,
		Title:           m.Title,
		Status:          m.Status,
		EndReason:       m.EndReason,
		DurationSeconds: m.DurationSeconds,
	}
	resp.StartedAt = formatTime(m.StartedAt)
	resp.AutoEndAt = formatTime(m.AutoEndAt)
	resp.EndedAt = formatTime(m.EndedAt)

	for _, p := range m.Participants {
		resp.Participants = append(resp.Participants, ParticipantResponse{
			Identity:    p.Identity,
			DisplayName: p.DisplayName,
			JoinedAt:    p.JoinedAt.Format(time.RFC3339),
			LeftAt:      formatTime(p.LeftAt),
		})
	}
	return resp
}

func toLinkResponse(l *model.MeetingLink) LinkResponse {
	return LinkResponse{
		Token:     l.Token,
		OneTime:   l.OneTime,
		ExpiresAt: formatTime(l.ExpiresAt),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
