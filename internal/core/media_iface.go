package core

import (
	"context"

	"github.com/dkeye/voicechan/internal/domain"
)

//go:generate mockgen -destination=mocks/mock_media.go -package=mocks github.com/dkeye/voicechan/internal/core MediaEngine,PeerConnection,Transport

// ICECandidate mirrors the browser RTCIceCandidateInit fields; contents are opaque here.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// TrackRef names one forwarded stream: the owner's SSRC of a given kind.
type TrackRef struct {
	Owner domain.UserID
	Kind  domain.StreamKind
	SSRC  domain.SSRC
}

// PeerHooks are invoked by the engine from its own goroutines.
type PeerHooks struct {
	// OnICECandidate delivers a locally gathered candidate.
	OnICECandidate func(ICECandidate)
	// OnRemoteTrack reports an inbound stream published by the participant.
	OnRemoteTrack func(kind domain.StreamKind, ssrc domain.SSRC)
	// OnFailed reports ICE/DTLS failure or a closed transport.
	OnFailed func(err error)
}

// PeerConnection is the server side of one participant's WebRTC connection.
// The server is always the offerer.
type PeerConnection interface {
	CreateOffer() (string, error)
	ApplyAnswer(sdp string) error
	AddICECandidate(ICECandidate) error
	AddTrack(TrackRef) error
	RemoveTrack(TrackRef) error
	Close() error
}

// MediaEngine creates peer connections. The concrete engine owns media forwarding.
type MediaEngine interface {
	NewPeer(ctx context.Context, channel domain.ChannelID, user domain.UserID, hooks PeerHooks) (PeerConnection, error)
}
