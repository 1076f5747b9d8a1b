package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"

	"github.com/dkeye/voicechan/internal/domain"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateDelete
)

// Sink receives forwarded packets; *webrtc.TrackLocalStaticRTP satisfies it.
type Sink interface {
	WriteRTP(p *rtp.Packet) error
}

// OutTrack is one forwarded copy of a source stream, owned by a subscriber's peer.
type OutTrack struct {
	Dst   domain.UserID
	Track Sink
	state atomic.Int32 // Zero by default (TrackStateOk)
}

func NewOutTrack(dst domain.UserID, track Sink) *OutTrack {
	return &OutTrack{Dst: dst, Track: track}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
