package provider

import (
	"context"
	"errors"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
)

var (
	ErrAlreadyJoined          = errors.New("provider handle already joined")
	ErrNotJoined              = errors.New("provider handle not joined")
	ErrScreenShareUnsupported = errors.New("screen share not supported by this runtime")
)

// LiveKitProvider implements Provider on top of the LiveKit room SDK.
// Callbacks are bound inside the connect call itself, so the SDK has
// the listeners before the join handshake completes.
type LiveKitProvider struct {
	mu        sync.Mutex
	room      *lksdk.Room
	events    Events
	identity  string
	destroyed bool
}

// NewLiveKitProvider 핸들 생성
func NewLiveKitProvider() *LiveKitProvider {
	return &LiveKitProvider{}
}

// Attach stores the event set. Must precede Join.
func (p *LiveKitProvider) Attach(events Events) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = events
}

// Join connects to the room named by the credentials. On failure the
// handle is left unjoined and reusable; the caller decides whether to
// destroy it.
func (p *LiveKitProvider) Join(ctx context.Context, url, token, displayName string) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrNotJoined
	}
	if p.room != nil {
		p.mu.Unlock()
		return ErrAlreadyJoined
	}
	events := p.events
	p.mu.Unlock()

	callback := &lksdk.RoomCallback{
		OnDisconnected: func() {
			if events.OnLeft != nil {
				events.OnLeft()
			}
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			if events.OnParticipantJoined != nil {
				events.OnParticipantJoined(fromRemote(rp))
			}
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			if events.OnParticipantLeft != nil {
				events.OnParticipantLeft(fromRemote(rp))
			}
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if events.OnTrackStarted != nil {
					events.OnTrackStarted(rp.Identity(), kindOf(pub.Kind()))
				}
			},
			OnTrackUnpublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if events.OnTrackStopped != nil {
					events.OnTrackStopped(rp.Identity(), kindOf(pub.Kind()))
				}
			},
			OnTrackMuted: func(pub lksdk.TrackPublication, participant lksdk.Participant) {
				if events.OnParticipantUpdate != nil {
					events.OnParticipantUpdate(fromParticipant(participant))
				}
			},
			OnTrackUnmuted: func(pub lksdk.TrackPublication, participant lksdk.Participant) {
				if events.OnParticipantUpdate != nil {
					events.OnParticipantUpdate(fromParticipant(participant))
				}
			},
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(url, token, callback)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.room = room
	p.identity = room.LocalParticipant.Identity()
	p.mu.Unlock()

	if events.OnJoined != nil {
		events.OnJoined()
	}
	return nil
}

// Leave disconnects but keeps the handle.
func (p *LiveKitProvider) Leave() {
	p.mu.Lock()
	room := p.room
	p.room = nil
	p.mu.Unlock()

	if room != nil {
		room.Disconnect()
	}
}

// Destroy releases everything. Safe to call repeatedly and after a
// failed join.
func (p *LiveKitProvider) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	room := p.room
	p.room = nil
	p.mu.Unlock()

	if room != nil {
		room.Disconnect()
	}
}

// Roster re-reads the provider's full participant list.
func (p *LiveKitProvider) Roster() []Participant {
	p.mu.Lock()
	room := p.room
	p.mu.Unlock()

	if room == nil {
		return nil
	}

	remotes := room.GetRemoteParticipants()
	roster := make([]Participant, 0, len(remotes)+1)

	local := fromParticipant(room.LocalParticipant)
	local.IsLocal = true
	roster = append(roster, local)

	for _, rp := range remotes {
		roster = append(roster, fromRemote(rp))
	}
	return roster
}

// LocalParticipant 로컬 참가자 조회
func (p *LiveKitProvider) LocalParticipant() (Participant, bool) {
	p.mu.Lock()
	room := p.room
	p.mu.Unlock()

	if room == nil {
		return Participant{}, false
	}
	local := fromParticipant(room.LocalParticipant)
	local.IsLocal = true
	return local, true
}

// SetLocalAudio mutes or unmutes every local audio publication.
func (p *LiveKitProvider) SetLocalAudio(enabled bool) error {
	return p.setLocalMuted(lksdk.TrackKindAudio, !enabled)
}

// SetLocalVideo mutes or unmutes every local video publication.
func (p *LiveKitProvider) SetLocalVideo(enabled bool) error {
	return p.setLocalMuted(lksdk.TrackKindVideo, !enabled)
}

func (p *LiveKitProvider) setLocalMuted(kind lksdk.TrackKind, muted bool) error {
	p.mu.Lock()
	room := p.room
	p.mu.Unlock()

	if room == nil {
		return ErrNotJoined
	}

	for _, pub := range room.LocalParticipant.TrackPublications() {
		if pub.Kind() != kind {
			continue
		}
		if local, ok := pub.(*lksdk.LocalTrackPublication); ok {
			local.SetMuted(muted)
		}
	}
	return nil
}

// StartScreenShare reports unsupported: this runtime has no display to
// capture. The coordinator degrades the feature locally.
func (p *LiveKitProvider) StartScreenShare() error {
	return ErrScreenShareUnsupported
}

// StopScreenShare 화면 공유 중지
func (p *LiveKitProvider) StopScreenShare() error {
	return ErrScreenShareUnsupported
}

func kindOf(kind lksdk.TrackKind) TrackKind {
	if kind == lksdk.TrackKindVideo {
		return TrackKindVideo
	}
	return TrackKindAudio
}

func fromRemote(rp *lksdk.RemoteParticipant) Participant {
	return fromParticipant(rp)
}

func fromParticipant(lp lksdk.Participant) Participant {
	participant := Participant{
		Identity: lp.Identity(),
		Name:     lp.Name(),
	}
	for _, pub := range lp.TrackPublications() {
		participant.HasTracks = true
		switch pub.Kind() {
		case lksdk.TrackKindAudio:
			if !pub.IsMuted() {
				participant.AudioEnabled = true
			}
		case lksdk.TrackKindVideo:
			if !pub.IsMuted() {
				participant.VideoEnabled = true
			}
		}
	}
	return participant
}
