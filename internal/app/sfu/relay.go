package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/dkeye/voicechan/internal/domain"
)

// Key names one published stream.
type Key struct {
	Channel domain.ChannelID
	Owner   domain.UserID
	Kind    domain.StreamKind
}

// Source is the inbound side of a relay; *webrtc.TrackRemote satisfies it.
type Source interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Relay fans one source track out to its subscribers. Subscribers may attach
// before the source arrives; packets flow once it does.
type Relay struct {
	Key Key

	mu        sync.RWMutex
	src       Source
	outTracks map[domain.UserID]*OutTrack
	keyframe  func()

	cancel context.CancelFunc
}

func NewRelay(key Key) *Relay {
	return &Relay{
		Key:       key,
		outTracks: make(map[domain.UserID]*OutTrack),
	}
}

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, src Source, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done")
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dirty []domain.UserID
	for dst, ot := range snapshot {
		if ot.GetState() == TrackStateDelete {
			dirty = append(dirty, dst)
			continue
		}
		if err := ot.Track.WriteRTP(pkt); err != nil {
			logger.Warn().Err(err).Str("dst", string(dst)).Msg("relay write RTP error, dropping out track")
			ot.MarkDelete()
			dirty = append(dirty, dst)
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dst := range dirty {
		if ot, ok := r.outTracks[dst]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, dst)
		}
	}
}

// AddOutTrack attaches ot, replacing any earlier track for the same
// subscriber. For video it returns the publisher's keyframe request, which
// the caller should invoke so the new subscriber can start decoding.
func (r *Relay) AddOutTrack(ot *OutTrack) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.outTracks[ot.Dst]; ok {
		old.MarkDelete()
	}
	r.outTracks[ot.Dst] = ot
	if !r.Key.Kind.IsVideo() {
		return nil
	}
	return r.keyframe
}

func (r *Relay) removeOutTrack(dst domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ot, ok := r.outTracks[dst]; ok {
		ot.MarkDelete()
		delete(r.outTracks, dst)
	}
}

// Subscribers lists the users currently receiving this stream.
func (r *Relay) Subscribers() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.outTracks))
	for dst, ot := range r.outTracks {
		if ot.GetState() == TrackStateOk {
			out = append(out, dst)
		}
	}
	return out
}

func (r *Relay) idle() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.src == nil && len(r.outTracks) == 0
}
