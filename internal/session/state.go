package session

import (
	"time"

	"meetlink-backend/internal/model"
	"meetlink-backend/internal/provider"
)

// State 세션 수명 주기 상태
type State int

const (
	StateIdle       State = iota // 시작 전
	StateValidating              // 링크 검증 중
	StateJoining                 // 자격 증명 교환 + 프로바이더 입장 중
	StateActive                  // 세션 진행 중
	StateEnding                  // 종료 처리 중
	StateEnded                   // 종료 완료 (터미널)
	StateError                   // 검증/입장 실패 (터미널)
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is permitted.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateError
}

// endTrigger is the named variant dispatched into the termination
// path. Exactly one trigger wins; the rest are dropped by the
// single-entry guard.
type endTrigger struct {
	reason  model.EndReason
	persist bool
	source  string // "timer" | "remote" | "local" | "teardown" | "provider"
}

// Snapshot is the read-only view exposed to the UI shell.
type Snapshot struct {
	State       State                  `json:"state"`
	Err         error                  `json:"-"`
	MeetingID   int64                  `json:"meeting_id,omitempty"`
	Title       string                 `json:"title,omitempty"`
	HostName    string                 `json:"host_name,omitempty"`
	EndReason   model.EndReason        `json:"end_reason,omitempty"`
	Remaining   time.Duration          `json:"remaining"`
	Roster      []provider.Participant `json:"roster,omitempty"`
	MicMuted    bool                   `json:"mic_muted"`
	CameraOff   bool                   `json:"camera_off"`
	Sharing     bool                   `json:"sharing"`
	ShareUnable bool                   `json:"share_unable"`
}
