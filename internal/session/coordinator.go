package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"meetlink-backend/internal/model"
	"meetlink-backend/internal/provider"
)

var (
	ErrNotActive      = errors.New("session not active")
	ErrAlreadyStarted = errors.New("session already started")
)

// LinkPreview is the non-destructive validation result shown before an
// actual join is attempted.
type LinkPreview struct {
	MeetingID int64
	Title     string
	HostName  string
	Status    string
}

// JoinGrant is the consuming join response. AutoEndAt is the
// server-fixed instant; the coordinator never derives it from local
// wall clock plus a constant.
type JoinGrant struct {
	MeetingID     int64
	Title         string
	HostName      string
	ProviderURL   string
	ProviderToken string
	AutoEndAt     time.Time
}

// Gateway is the persistence-backed collaborator behind the join flow.
type Gateway interface {
	ValidateLink(ctx context.Context, token string) (*LinkPreview, error)
	JoinMeeting(ctx context.Context, token, participantID, participantName string) (*JoinGrant, error)
	EndMeeting(ctx context.Context, meetingID int64, participantID string, reason model.EndReason, durationSeconds int64) error
}

// StatusChannel carries out-of-band termination signals between
// clients. The returned func unsubscribes.
type StatusChannel interface {
	SubscribeStatus(ctx context.Context, meetingID int64, onChange func(status, reason string)) (func(), error)
}

// Options Coordinator 구성
type Options struct {
	Gateway  Gateway
	Status   StatusChannel
	Provider provider.Provider
	Chat     ChatStore // optional

	Identity    string
	DisplayName string

	// Clock defaults to the real clock; tests inject a mock.
	Clock clock.Clock

	// OnUpdate receives a snapshot after every observable change.
	OnUpdate func(Snapshot)
}

// Coordinator drives one client's session from link token to terminal
// state. The countdown timer, status subscription, and participant
// reconciler all funnel termination into the same single-entry path;
// whichever trigger fires first performs the teardown, the rest are
// no-ops.
type Coordinator struct {
	gateway  Gateway
	status   StatusChannel
	provider provider.Provider
	chat     *ChatSession
	chatSt   ChatStore
	clk      clock.Clock
	onUpdate func(Snapshot)

	identity    string
	displayName string

	mu          sync.Mutex
	state       State
	stateErr    error
	grant       *JoinGrant
	joinedAt    time.Time
	countdown   *Countdown
	unsubscribe func()
	roster      []provider.Participant
	micMuted    bool
	cameraOff   bool
	sharing     bool
	shareUnable bool
	endReason   model.EndReason
	ending      bool
}

// New Coordinator 생성
func New(opts Options) *Coordinator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Coordinator{
		gateway:     opts.Gateway,
		status:      opts.Status,
		provider:    opts.Provider,
		chatSt:      opts.Chat,
		clk:         clk,
		onUpdate:    opts.OnUpdate,
		identity:    opts.Identity,
		displayName: opts.DisplayName,
		state:       StateIdle,
	}
}

// Preview runs the read-only link check without consuming the link,
// for display before media is acquired.
func (c *Coordinator) Preview(ctx context.Context, token string) (*LinkPreview, error) {
	return c.gateway.ValidateLink(ctx, token)
}

// Start drives validating → joining → active. Validation and join
// failures are surfaced to the caller and leave the coordinator in the
// terminal error state; the caller may build a fresh coordinator to
// retry, nothing is retried here.
func (c *Coordinator) Start(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateValidating
	c.mu.Unlock()
	c.notify()

	if _, err := c.gateway.ValidateLink(ctx, token); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.state = StateJoining
	c.mu.Unlock()
	c.notify()

	grant, err := c.gateway.JoinMeeting(ctx, token, c.identity, c.displayName)
	if err != nil {
		c.fail(err)
		return err
	}

	// Listeners must exist before the join call: a joined event fired
	// synchronously during join would otherwise be lost.
	c.provider.Attach(provider.Events{
		OnJoined:            func() { c.reconcile() },
		OnLeft:              c.handleProviderLeft,
		OnParticipantJoined: func(provider.Participant) { c.reconcile() },
		OnParticipantUpdate: func(provider.Participant) { c.reconcile() },
		OnParticipantLeft:   func(provider.Participant) { c.reconcile() },
		OnTrackStarted:      func(string, provider.TrackKind) { c.reconcile() },
		OnTrackStopped:      func(string, provider.TrackKind) { c.reconcile() },
		OnError:             c.handleProviderError,
	})

	if err := c.provider.Join(ctx, grant.ProviderURL, grant.ProviderToken, c.displayName); err != nil {
		// Never report failure with a half-initialized handle alive.
		c.provider.Destroy()
		c.fail(err)
		return err
	}

	joinedAt := c.clk.Now()
	countdown := NewCountdown(c.clk, grant.AutoEndAt, c.handleExpiry)

	unsubscribe, err := c.status.SubscribeStatus(ctx, grant.MeetingID, c.handleStatus)
	if err != nil {
		c.provider.Destroy()
		c.fail(err)
		return err
	}

	var chat *ChatSession
	if c.chatSt != nil {
		chat, err = OpenChat(ctx, c.chatSt, grant.MeetingID, c.handleChatMessage)
		if err != nil {
			unsubscribe()
			c.provider.Destroy()
			c.fail(err)
			return err
		}
	}

	c.mu.Lock()
	c.state = StateActive
	c.grant = grant
	c.joinedAt = joinedAt
	c.countdown = countdown
	c.unsubscribe = unsubscribe
	c.chat = chat
	c.mu.Unlock()

	countdown.Start()
	c.reconcile()
	return nil
}

// fail moves validating/joining into the terminal error state.
func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.stateErr = err
	c.mu.Unlock()
	c.notify()
}

// handleExpiry 타이머 0 도달 (이미 디스암된 뒤 호출됨)
func (c *Coordinator) handleExpiry() {
	c.terminate(endTrigger{reason: model.EndReasonTimeLimit, persist: true, source: "timer"})
}

// handleStatus mirrors a remote termination message into the local
// state machine. The remote side already performed the terminal write;
// this client must not write a second one.
func (c *Coordinator) handleStatus(status, reason string) {
	if status != model.MeetingStatusEnded.String() {
		return
	}
	endReason := model.EndReason(reason)
	if endReason == "" {
		endReason = model.EndReasonManual
	}
	c.terminate(endTrigger{reason: endReason, persist: false, source: "remote"})
}

// handleProviderLeft fires when the provider connection drops. During
// our own teardown the guard makes this a no-op.
func (c *Coordinator) handleProviderLeft() {
	c.terminate(endTrigger{reason: model.EndReasonManual, persist: true, source: "provider"})
}

// handleProviderError: runtime provider errors are recovered locally,
// never fatal to the session.
func (c *Coordinator) handleProviderError(err error) {
	log.Printf("[Coordinator] provider error (recovered): %v", err)
}

// Leave is the local user action. The terminal persist runs on its
// own deadline so a canceled caller context cannot skip it.
func (c *Coordinator) Leave() {
	c.terminate(endTrigger{reason: model.EndReasonManual, persist: true, source: "local"})
}

// Close is the unmount/navigation-away path. Same termination path as
// a normal end, best effort.
func (c *Coordinator) Close() {
	c.terminate(endTrigger{reason: model.EndReasonManual, persist: true, source: "teardown"})
}

// terminate is the single choke point for active → ending → ended.
// The explicit guard is mandatory: a timer callback and a remote
// message callback can legitimately race into here.
func (c *Coordinator) terminate(trigger endTrigger) {
	c.mu.Lock()
	if c.ending || c.state != StateActive {
		// Losing trigger: silently dropped, not an error.
		c.mu.Unlock()
		return
	}
	c.ending = true
	c.state = StateEnding
	grant := c.grant
	joinedAt := c.joinedAt
	countdown := c.countdown
	unsubscribe := c.unsubscribe
	chat := c.chat
	c.mu.Unlock()
	c.notify()

	// Teardown order: timer, channel, provider, persistence.
	if countdown != nil {
		countdown.Stop()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if chat != nil {
		chat.Close()
	}
	c.provider.Leave()
	c.provider.Destroy()

	if trigger.persist && grant != nil {
		duration := int64(c.clk.Now().Sub(joinedAt).Seconds())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.gateway.EndMeeting(ctx, grant.MeetingID, c.identity, trigger.reason, duration); err != nil {
			// The client is already leaving; log, don't retry.
			log.Printf("[Coordinator] terminal persist failed (%s): %v", trigger.source, err)
		}
	}

	c.mu.Lock()
	c.state = StateEnded
	c.endReason = trigger.reason
	c.mu.Unlock()
	c.notify()
}

// reconcile re-reads the full roster from the provider instead of
// patching incrementally, so missed or re-ordered events cannot let
// local state drift from provider truth.
func (c *Coordinator) reconcile() {
	roster := c.provider.Roster()
	local, joined := c.provider.LocalParticipant()

	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.roster = roster
	if joined {
		c.micMuted = !local.AudioEnabled
		c.cameraOff = !local.VideoEnabled
	}
	c.mu.Unlock()
	c.notify()
}

// handleChatMessage 채팅 수신 시 UI 갱신
func (c *Coordinator) handleChatMessage(model.ChatMessage) {
	c.notify()
}

// SetMicEnabled toggles the local microphone through the provider and
// re-derives the flag from provider state, so UI and provider cannot
// disagree.
func (c *Coordinator) SetMicEnabled(enabled bool) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	if err := c.provider.SetLocalAudio(enabled); err != nil {
		return err
	}
	c.reconcile()
	return nil
}

// SetCameraEnabled 카메라 토글
func (c *Coordinator) SetCameraEnabled(enabled bool) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	if err := c.provider.SetLocalVideo(enabled); err != nil {
		return err
	}
	c.reconcile()
	return nil
}

// StartScreenShare attempts screen share. An unsupported runtime
// disables the feature for the rest of the session; the session
// continues.
func (c *Coordinator) StartScreenShare() error {
	if err := c.requireActive(); err != nil {
		return err
	}
	if err := c.provider.StartScreenShare(); err != nil {
		if errors.Is(err, provider.ErrScreenShareUnsupported) {
			c.mu.Lock()
			c.shareUnable = true
			c.mu.Unlock()
			c.notify()
		}
		return err
	}
	c.mu.Lock()
	c.sharing = true
	c.mu.Unlock()
	c.notify()
	return nil
}

// StopScreenShare 화면 공유 중지
func (c *Coordinator) StopScreenShare() error {
	if err := c.requireActive(); err != nil {
		return err
	}
	err := c.provider.StopScreenShare()
	c.mu.Lock()
	c.sharing = false
	c.mu.Unlock()
	c.notify()
	if err != nil && !errors.Is(err, provider.ErrScreenShareUnsupported) {
		return err
	}
	return nil
}

// SendChat 채팅 전송 (라운드트립 후에만 메시지가 존재)
func (c *Coordinator) SendChat(ctx context.Context, body string) error {
	c.mu.Lock()
	chat := c.chat
	c.mu.Unlock()
	if chat == nil {
		return ErrNotActive
	}
	return chat.Send(ctx, c.identity, c.displayName, body)
}

// ChatMessages 현재까지 수신한 채팅 목록
func (c *Coordinator) ChatMessages() []model.ChatMessage {
	c.mu.Lock()
	chat := c.chat
	c.mu.Unlock()
	if chat == nil {
		return nil
	}
	return chat.Messages()
}

func (c *Coordinator) requireActive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return ErrNotActive
	}
	return nil
}

// State 현재 상태
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining 남은 시간 (표시용)
func (c *Coordinator) Remaining() time.Duration {
	c.mu.Lock()
	countdown := c.countdown
	c.mu.Unlock()
	if countdown == nil {
		return 0
	}
	return countdown.Remaining()
}

// Snapshot UI에 노출되는 전체 뷰
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	snapshot := Snapshot{
		State:       c.state,
		Err:         c.stateErr,
		EndReason:   c.endReason,
		Roster:      append([]provider.Participant(nil), c.roster...),
		MicMuted:    c.micMuted,
		CameraOff:   c.cameraOff,
		Sharing:     c.sharing,
		ShareUnable: c.shareUnable,
	}
	if c.grant != nil {
		snapshot.MeetingID = c.grant.MeetingID
		snapshot.Title = c.grant.Title
		snapshot.HostName = c.grant.HostName
	}
	countdown := c.countdown
	c.mu.Unlock()

	if countdown != nil {
		snapshot.Remaining = countdown.Remaining()
	}
	return snapshot
}

func (c *Coordinator) notify() {
	if c.onUpdate != nil {
		c.onUpdate(c.Snapshot())
	}
}
