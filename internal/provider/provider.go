package provider

import "context"

// Package provider abstracts the external call provider: the component
// that actually establishes and transmits media. The coordinator only
// orchestrates its lifecycle and reacts to its events.

// TrackKind 트랙 종류
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Participant is one entry of the provider's live roster. It is a
// projection, not a source of truth; the coordinator rebuilds it from
// the provider on every event.
type Participant struct {
	Identity     string `json:"identity"`
	Name         string `json:"name"`
	IsLocal      bool   `json:"is_local"`
	AudioEnabled bool   `json:"audio_enabled"`
	VideoEnabled bool   `json:"video_enabled"`
	HasTracks    bool   `json:"has_tracks"`
}

// Events are the provider callbacks. They must be attached before the
// join call is issued; an event fired during join would otherwise be
// lost.
type Events struct {
	OnJoined            func()
	OnLeft              func()
	OnParticipantJoined func(Participant)
	OnParticipantUpdate func(Participant)
	OnParticipantLeft   func(Participant)
	OnTrackStarted      func(identity string, kind TrackKind)
	OnTrackStopped      func(identity string, kind TrackKind)
	OnError             func(error)
}

// Provider is the session handle bound to one local client.
//
// Attach must be called before Join. Destroy is idempotent and must be
// safe after a failed Join, so a half-initialized handle never leaks.
type Provider interface {
	Attach(events Events)
	Join(ctx context.Context, url, token, displayName string) error
	Leave()
	Destroy()

	// Roster returns the provider's full current roster, local
	// participant included.
	Roster() []Participant
	LocalParticipant() (Participant, bool)

	SetLocalAudio(enabled bool) error
	SetLocalVideo(enabled bool) error
	StartScreenShare() error
	StopScreenShare() error
}
