package model

// MeetingStatus 미팅 상태
type MeetingStatus string

const (
	MeetingStatusScheduled MeetingStatus = "SCHEDULED"
	MeetingStatusActive    MeetingStatus = "ACTIVE"
	MeetingStatusEnded     MeetingStatus = "ENDED"
)

func (s MeetingStatus) String() string {
	return string(s)
}

// EndReason 미팅 종료 사유
type EndReason string

const (
	EndReasonManual    EndReason = "manual"     // 호스트/참가자의 명시적 종료
	EndReasonTimeLimit EndReason = "time_limit" // 자동 종료 시각 도달
	EndReasonAllLeft   EndReason = "all_left"   // 모든 참가자 퇴장
)

func (r EndReason) String() string {
	return string(r)
}
