package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"meetlink-backend/internal/model"
	"meetlink-backend/internal/provider"
	"meetlink-backend/internal/store"
)

// ---- fakes ----

type endCall struct {
	meetingID     int64
	participantID string
	reason        model.EndReason
	duration      int64
}

type fakeGateway struct {
	mu         sync.Mutex
	preview    *LinkPreview
	previewErr error
	grant      *JoinGrant
	joinErr    error
	endErr     error
	endCalls   []endCall
	onEnd      func(reason model.EndReason)
}

func (g *fakeGateway) ValidateLink(ctx context.Context, token string) (*LinkPreview, error) {
	if g.previewErr != nil {
		return nil, g.previewErr
	}
	return g.preview, nil
}

func (g *fakeGateway) JoinMeeting(ctx context.Context, token, participantID, participantName string) (*JoinGrant, error) {
	if g.joinErr != nil {
		return nil, g.joinErr
	}
	return g.grant, nil
}

func (g *fakeGateway) EndMeeting(ctx context.Context, meetingID int64, participantID string, reason model.EndReason, durationSeconds int64) error {
	g.mu.Lock()
	g.endCalls = append(g.endCalls, endCall{meetingID, participantID, reason, durationSeconds})
	onEnd := g.onEnd
	g.mu.Unlock()
	if onEnd != nil {
		onEnd(reason)
	}
	return g.endErr
}

func (g *fakeGateway) endCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.endCalls)
}

// linkGateway models a single-use link the way the store does: one
// guarded unused→used flip on join, and every check after the flip
// reports used. Validation alone never flips it.
type linkGateway struct {
	mu       sync.Mutex
	preview  *LinkPreview
	grant    *JoinGrant
	consumed bool
	joinWins int
}

func (g *linkGateway) ValidateLink(ctx context.Context, token string) (*LinkPreview, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.consumed {
		return nil, store.ErrLinkUsed
	}
	return g.preview, nil
}

func (g *linkGateway) JoinMeeting(ctx context.Context, token, participantID, participantName string) (*JoinGrant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.consumed {
		return nil, store.ErrLinkUsed
	}
	g.consumed = true
	g.joinWins++
	return g.grant, nil
}

func (g *linkGateway) EndMeeting(ctx context.Context, meetingID int64, participantID string, reason model.EndReason, durationSeconds int64) error {
	return nil
}

// fakeStatus is an in-process stand-in for the redis status channel.
// Emit fans out to every live subscriber, like a publish would.
type fakeStatus struct {
	mu          sync.Mutex
	subscribers map[int]func(status, reason string)
	nextID      int
	unsubCount  int
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{subscribers: make(map[int]func(status, reason string))}
}

func (s *fakeStatus) SubscribeStatus(ctx context.Context, meetingID int64, onChange func(status, reason string)) (func(), error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = onChange
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			s.unsubCount++
		}
		s.mu.Unlock()
	}, nil
}

func (s *fakeStatus) Emit(status, reason string) {
	s.mu.Lock()
	subs := make([]func(string, string), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(status, reason)
	}
}

type fakeProvider struct {
	mu           sync.Mutex
	events       provider.Events
	joinErr      error
	joined       bool
	leaveCount   int
	destroyCount int
	local        provider.Participant
	remotes      []provider.Participant
	shareErr     error
	sharing      bool
}

func newFakeProvider(identity, name string) *fakeProvider {
	return &fakeProvider{
		local: provider.Participant{
			Identity:     identity,
			Name:         name,
			IsLocal:      true,
			AudioEnabled: true,
			VideoEnabled: true,
		},
	}
}

func (p *fakeProvider) Attach(events provider.Events) {
	p.mu.Lock()
	p.events = events
	p.mu.Unlock()
}

func (p *fakeProvider) Join(ctx context.Context, url, token, displayName string) error {
	if p.joinErr != nil {
		return p.joinErr
	}
	p.mu.Lock()
	p.joined = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) Leave() {
	p.mu.Lock()
	p.joined = false
	p.leaveCount++
	p.mu.Unlock()
}

func (p *fakeProvider) Destroy() {
	p.mu.Lock()
	p.destroyCount++
	p.mu.Unlock()
}

func (p *fakeProvider) Roster() []provider.Participant {
	p.mu.Lock()
	defer p.mu.Unlock()
	roster := []provider.Participant{p.local}
	return append(roster, p.remotes...)
}

func (p *fakeProvider) LocalParticipant() (provider.Participant, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local, p.joined
}

func (p *fakeProvider) SetLocalAudio(enabled bool) error {
	p.mu.Lock()
	p.local.AudioEnabled = enabled
	local := p.local
	events := p.events
	p.mu.Unlock()
	if events.OnParticipantUpdate != nil {
		events.OnParticipantUpdate(local)
	}
	return nil
}

func (p *fakeProvider) SetLocalVideo(enabled bool) error {
	p.mu.Lock()
	p.local.VideoEnabled = enabled
	local := p.local
	events := p.events
	p.mu.Unlock()
	if events.OnParticipantUpdate != nil {
		events.OnParticipantUpdate(local)
	}
	return nil
}

func (p *fakeProvider) StartScreenShare() error {
	if p.shareErr != nil {
		return p.shareErr
	}
	p.mu.Lock()
	p.sharing = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) StopScreenShare() error {
	p.mu.Lock()
	p.sharing = false
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) counts() (leaves, destroys int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leaveCount, p.destroyCount
}

func (p *fakeProvider) addRemote(identity, name string) {
	p.mu.Lock()
	remote := provider.Participant{Identity: identity, Name: name, AudioEnabled: true, VideoEnabled: true}
	p.remotes = append(p.remotes, remote)
	events := p.events
	p.mu.Unlock()
	if events.OnParticipantJoined != nil {
		events.OnParticipantJoined(remote)
	}
}

// ---- helpers ----

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fixture struct {
	coordinator *Coordinator
	gateway     *fakeGateway
	status      *fakeStatus
	provider    *fakeProvider
	mock        *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	gateway := &fakeGateway{
		preview: &LinkPreview{MeetingID: 7, Title: "standup", HostName: "alice", Status: model.MeetingStatusScheduled.String()},
		grant: &JoinGrant{
			MeetingID:     7,
			Title:         "standup",
			HostName:      "alice",
			ProviderURL:   "wss://rtc.example.com",
			ProviderToken: "token-abc",
			AutoEndAt:     mock.Now().Add(40 * time.Minute),
		},
	}
	status := newFakeStatus()
	prov := newFakeProvider("user-1", "bob")
	c := New(Options{
		Gateway:     gateway,
		Status:      status,
		Provider:    prov,
		Clock:       mock,
		Identity:    "user-1",
		DisplayName: "bob",
	})
	return &fixture{coordinator: c, gateway: gateway, status: status, provider: prov, mock: mock}
}

// ---- tests ----

func TestStartReachesActive(t *testing.T) {
	f := newFixture(t)

	if err := f.coordinator.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if got := f.coordinator.State(); got != StateActive {
		t.Fatalf("state = %v, want %v", got, StateActive)
	}

	snapshot := f.coordinator.Snapshot()
	if snapshot.MeetingID != 7 || snapshot.Title != "standup" || snapshot.HostName != "alice" {
		t.Fatalf("snapshot meeting fields = %+v", snapshot)
	}
	if snapshot.Remaining != 40*time.Minute {
		t.Fatalf("remaining = %v, want 40m", snapshot.Remaining)
	}
	if len(snapshot.Roster) != 1 || !snapshot.Roster[0].IsLocal {
		t.Fatalf("roster = %+v, want single local participant", snapshot.Roster)
	}
}

func TestStartRejectsSecondCall(t *testing.T) {
	f := newFixture(t)
	if err := f.coordinator.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := f.coordinator.Start(context.Background(), "tok"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start() = %v, want ErrAlreadyStarted", err)
	}
}

func TestValidationFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	wantErr := errors.New("link already used")
	f.gateway.previewErr = wantErr

	if err := f.coordinator.Start(context.Background(), "tok"); !errors.Is(err, wantErr) {
		t.Fatalf("Start() = %v, want %v", err, wantErr)
	}
	if got := f.coordinator.State(); got != StateError {
		t.Fatalf("state = %v, want %v", got, StateError)
	}
	if _, destroys := f.provider.counts(); destroys != 0 {
		t.Fatalf("provider destroyed %d times before join, want 0", destroys)
	}
}

func newLinkGateway(mock *clock.Mock) *linkGateway {
	return &linkGateway{
		preview: &LinkPreview{MeetingID: 7, Title: "standup", HostName: "alice", Status: model.MeetingStatusScheduled.String()},
		grant: &JoinGrant{
			MeetingID:     7,
			Title:         "standup",
			HostName:      "alice",
			ProviderURL:   "wss://rtc.example.com",
			ProviderToken: "token-abc",
			AutoEndAt:     mock.Now().Add(40 * time.Minute),
		},
	}
}

// Scenario: validate, join, validate again. The link is consumed by
// the join, so both later checks must report used, never valid.
func TestUsedLinkFailsRevalidation(t *testing.T) {
	mock := clock.NewMock()
	gateway := newLinkGateway(mock)
	status := newFakeStatus()

	first := New(Options{Gateway: gateway, Status: status, Provider: newFakeProvider("user-1", "bob"), Clock: mock, Identity: "user-1", DisplayName: "bob"})
	if _, err := first.Preview(context.Background(), "tok"); err != nil {
		t.Fatalf("Preview before join = %v, want valid", err)
	}
	if err := first.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if _, err := first.Preview(context.Background(), "tok"); !errors.Is(err, store.ErrLinkUsed) {
		t.Fatalf("Preview after join = %v, want ErrLinkUsed", err)
	}
	// Validation is non-destructive: repeating it must not change the
	// answer either way.
	if _, err := first.Preview(context.Background(), "tok"); !errors.Is(err, store.ErrLinkUsed) {
		t.Fatalf("second Preview after join = %v, want ErrLinkUsed", err)
	}

	second := New(Options{Gateway: gateway, Status: status, Provider: newFakeProvider("user-2", "carol"), Clock: mock, Identity: "user-2", DisplayName: "carol"})
	if err := second.Start(context.Background(), "tok"); !errors.Is(err, store.ErrLinkUsed) {
		t.Fatalf("second Start() = %v, want ErrLinkUsed", err)
	}
	if got := second.State(); got != StateError {
		t.Fatalf("second coordinator state = %v, want %v", got, StateError)
	}
}

// N concurrent joins on one link: exactly one consumes it, the rest
// fail with used.
func TestConcurrentJoinsConsumeLinkOnce(t *testing.T) {
	mock := clock.NewMock()
	gateway := newLinkGateway(mock)
	status := newFakeStatus()

	const n = 10
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := New(Options{
				Gateway:     gateway,
				Status:      status,
				Provider:    newFakeProvider(fmt.Sprintf("user-%d", i), "guest"),
				Clock:       mock,
				Identity:    fmt.Sprintf("user-%d", i),
				DisplayName: "guest",
			})
			errs <- c.Start(context.Background(), "tok")
		}(i)
	}
	wg.Wait()
	close(errs)

	var won, used int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, store.ErrLinkUsed):
			used++
		default:
			t.Fatalf("unexpected Start() error: %v", err)
		}
	}
	if won != 1 || used != n-1 {
		t.Fatalf("joins: %d succeeded, %d rejected used; want 1/%d", won, used, n-1)
	}
	if gateway.joinWins != 1 {
		t.Fatalf("link consumed %d times, want exactly 1", gateway.joinWins)
	}
}

func TestJoinFailureDestroysProvider(t *testing.T) {
	f := newFixture(t)
	f.provider.joinErr = errors.New("connect refused")

	if err := f.coordinator.Start(context.Background(), "tok"); err == nil {
		t.Fatal("Start() succeeded, want join error")
	}
	if got := f.coordinator.State(); got != StateError {
		t.Fatalf("state = %v, want %v", got, StateError)
	}
	if _, destroys := f.provider.counts(); destroys != 1 {
		t.Fatalf("provider destroyed %d times, want 1", destroys)
	}
}

func TestTimerExpiryEndsWithTimeLimit(t *testing.T) {
	f := newFixture(t)
	if err := f.coordinator.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	f.mock.Add(40*time.Minute + time.Second)

	waitFor(t, "session to end", func() bool { return f.coordinator.State() == StateEnded })

	snapshot := f.coordinator.Snapshot()
	if snapshot.EndReason != model.EndReasonTimeLimit {
		t.Fatalf("end reason = %q, want %q", snapshot.EndReason, model.EndReasonTimeLimit)
	}
	if got := f.gateway.endCount(); got != 1 {
		t.Fatalf("EndMeeting called %d times, want 1", got)
	}
	call := f.gateway.endCalls[0]
	if call.reason != model.EndReasonTimeLimit || call.meetingID != 7 {
		t.Fatalf("end call = %+v", call)
	}
	if call.duration < int64((40 * time.Minute).Seconds()) {
		t.Fatalf("duration = %d seconds, want at least the full meeting", call.duration)
	}
}

func TestConcurrentTerminationPersistsOnce(t *testing.T) {
	f := newFixture(t)
	if err := f.coordinator.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.coordinator.Leave()
		}()
	}
	wg.Wait()

	if got := f.coordinator.State(); got != StateEnded {
		t.Fatalf("state = %v, want %v", got, StateEnded)
	}
	if got := f.gateway.endCount(); got != 1 {
		t.Fatalf("EndMeeting called %d times, want exactly 1", got)
	}
	if leaves, destroys := f.provider.counts(); leaves != 1 || destroys != 1 {
		t.Fatalf("provider leave=%d destroy=%d, want 1/1", leaves, destroys)
	}
}

func TestRemoteEndDoesNotPersist(t *testing.T) {
	f := newFixture(t)
	if err := f.coordinator.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	f.status.Emit(model.MeetingStatusEnded.String(), model.EndReasonManual.String())

	waitFor(t, "session to end", func() bool { return f.coordinator.State() == StateEnded })
	if got := f.gateway.endCount(); got != 0 {
		t.Fatalf("EndMeeting called %d times on remote end, want 0", got)
	}
	if got := f.coordinator.Snapshot().EndReason; got != model.EndReasonManual {
		t.Fatalf("end reason = %q, want %q", got, model.EndReasonManual)
	}
}

func TestRemoteEndAfterLocalEndIsNoop(t *testing.T) {
	f := newFixture(t)
	if err := f.coordinator.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	f.coordinator.Leave()
	if got := f.coordinator.State(); got != StateEnded {
		t.Fatalf("state = %v, want %v", got, StateEnded)
	}

	f.status.Emit(model.MeetingStatusEnded.String(), model.EndReasonManual.String())
	f.coordinator.Close()

	if got := f.gateway.endCount(); got != 1 {
		t.Fatalf("EndMeeting called %d times, want 1", got)
	}
	if _, destroys := f.provider.counts(); destroys != 1 {
		t.Fatalf("provider destroyed %d times, want 1", destroys)
	}
}

// Two clients on one bus: when A ends locally, B must mirror the same
// terminal reason from the channel without writing a second end.
func TestHostEndPropagatesToOtherParticipant(t *testing.T) {
	mock := clock.NewMock()
	status := newFakeStatus()
	grant := &JoinGrant{
		MeetingID: 7, Title: "standup", HostName: "alice",
		ProviderURL: "wss://rtc.example.com", ProviderToken: "tok",
		AutoEndAt: mock.Now().Add(40 * time.Minute),
	}
	preview := &LinkPreview{MeetingID: 7, Title: "standup", HostName: "alice", Status: model.MeetingStatusActive.String()}

	gatewayA := &fakeGateway{preview: preview, grant: grant}
	gatewayA.onEnd = func(reason model.EndReason) {
		// Mirror the server: the winning terminal write publishes.
		status.Emit(model.MeetingStatusEnded.String(), reason.String())
	}
	gatewayB := &fakeGateway{preview: preview, grant: grant}

	a := New(Options{Gateway: gatewayA, Status: status, Provider: newFakeProvider("host", "alice"), Clock: mock, Identity: "host", DisplayName: "alice"})
	b := New(Options{Gateway: gatewayB, Status: status, Provider: newFakeProvider("guest", "bob"), Clock: mock, Identity: "guest", DisplayName: "bob"})

	if err := a.Start(context.Background(), "tok-a"); err != nil {
		t.Fatalf("a.Start() error: %v", err)
	}
	if err := b.Start(context.Background(), "tok-b"); err != nil {
		t.Fatalf("b.Start() error: %v", err)
	}

	a.Leave()

	waitFor(t, "b to end", func() bool { return b.State() == StateEnded })
	if got := b.Snapshot().EndReason; got != model.EndReasonManual {
		t.Fatalf("b end reason = %q, want %q", got, model.EndReasonManual)
	}
	if got := gatewayB.endCount(); got != 0 {
		t.Fatalf("b called EndMeeting %d times, want 0", got)
	}
	if got := gatewayA.endCount(); got != 1 {
		t.Fatalf("a called EndMeeting %d times, want 1", got)
	}
}

func TestRosterReconciliation(t *testing.T) {
	f := newFixture(t)
	if err := f.coordinator.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	f.provider.addRemote("user-2", "carol")

	waitFor(t, "roster to include remote", func() bool {
		return len(f.coordinator.Snapshot().Roster) == 2
	})
	snapshot := f.coordinator.Snapshot()
	if snapshot.Roster[1].Identity != "user-2" || snapshot.Roster[1].IsLocal {
		t.Fatalf("roster = %+v", snapshot.Roster)
	}
}

func TestMicAndCameraFlagsFollowProvider(t *testing.T) {
	f := newFixture(t)
	if err := f.coordinator.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := f.coordinator.SetMicEnabled(false); err != nil {
		t.Fatalf("SetMicEnabled error: %v", err)
	}
	if snapshot := f.coordinator.Snapshot(); !snapshot.MicMuted || snapshot.CameraOff {
		t.Fatalf("snapshot after mute = mic=%v camera=%v", snapshot.MicMuted, snapshot.CameraOff)
	}

	if err := f.coordinator.SetCameraEnabled(false); err != nil {
		t.Fatalf("SetCameraEnabled error: %v", err)
	}
	if snapshot := f.coordinator.Snapshot(); !snapshot.CameraOff {
		t.Fatal("camera flag not set after disable")
	}

	if err := f.coordinator.SetCameraEnabled(true); err != nil {
		t.Fatalf("SetCameraEnabled error: %v", err)
	}
	if snapshot := f.coordinator.Snapshot(); snapshot.CameraOff {
		t.Fatal("camera flag still set after re-enable")
	}
}

func TestScreenShareUnsupportedKeepsSessionAlive(t *testing.T) {
	f := newFixture(t)
	f.provider.shareErr = provider.ErrScreenShareUnsupported
	if err := f.coordinator.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := f.coordinator.StartScreenShare(); !errors.Is(err, provider.ErrScreenShareUnsupported) {
		t.Fatalf("StartScreenShare() = %v, want unsupported", err)
	}

	snapshot := f.coordinator.Snapshot()
	if !snapshot.ShareUnable || snapshot.Sharing {
		t.Fatalf("snapshot = shareUnable=%v sharing=%v", snapshot.ShareUnable, snapshot.Sharing)
	}
	if got := f.coordinator.State(); got != StateActive {
		t.Fatalf("state = %v, want session to stay %v", got, StateActive)
	}
}

func TestControlsRejectedOutsideActive(t *testing.T) {
	f := newFixture(t)
	if err := f.coordinator.SetMicEnabled(false); !errors.Is(err, ErrNotActive) {
		t.Fatalf("SetMicEnabled before start = %v, want ErrNotActive", err)
	}

	if err := f.coordinator.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	f.coordinator.Leave()

	if err := f.coordinator.StartScreenShare(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("StartScreenShare after end = %v, want ErrNotActive", err)
	}
}

func TestEndUnsubscribesStatusChannel(t *testing.T) {
	f := newFixture(t)
	if err := f.coordinator.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	f.coordinator.Leave()

	f.status.mu.Lock()
	live, unsubs := len(f.status.subscribers), f.status.unsubCount
	f.status.mu.Unlock()
	if live != 0 || unsubs != 1 {
		t.Fatalf("status subscribers=%d unsubscribes=%d, want 0/1", live, unsubs)
	}
}
