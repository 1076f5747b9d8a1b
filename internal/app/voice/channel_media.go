package voice

import (
	"fmt"

	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

// The channel is the negotiation.Driver for its participants.

func (c *channel) PrepareOffer(user domain.UserID) (string, error) {
	p := c.find(user)
	if p == nil {
		return "", domain.ErrNotInChannel
	}
	c.syncTracks(p)
	return p.peer.CreateOffer()
}

func (c *channel) SendOffer(user domain.UserID, sdp string) {
	c.send(user, core.EventOffer, core.OfferPayload{SDP: sdp})
}

func (c *channel) ApplyAnswer(user domain.UserID, sdp string) error {
	p := c.find(user)
	if p == nil {
		return domain.ErrNotInChannel
	}
	if err := p.peer.ApplyAnswer(sdp); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidSDP, err)
	}
	return nil
}

func (c *channel) AnswerTimedOut(user domain.UserID, gen uint64) {
	c.post(&timeoutCmd{user: user, gen: gen})
}

func (c *channel) ForceDisconnect(user domain.UserID, cause error) {
	if p := c.find(user); p != nil {
		c.remove(p, cause)
	}
}

// desiredTracks is what viewer should receive: every other participant's mic
// and camera, plus screen streams only from streamers it watches.
func (c *channel) desiredTracks(viewer domain.UserID) map[trackKey]domain.SSRC {
	out := make(map[trackKey]domain.SSRC)
	for _, m := range c.ssrcs.Snapshot() {
		if m.UserID == viewer {
			continue
		}
		if m.StreamKind.IsScreen() && !c.subs.Has(viewer, m.UserID) {
			continue
		}
		out[trackKey{owner: m.UserID, kind: m.StreamKind}] = m.SSRC
	}
	return out
}

// syncTracks reconciles the peer's forwarded tracks with desiredTracks. A
// track the engine cannot add yet is retried on the next negotiation.
func (c *channel) syncTracks(p *participant) {
	want := c.desiredTracks(p.user)
	for k, have := range p.tracks {
		if s, ok := want[k]; ok && s == have {
			continue
		}
		ref := core.TrackRef{Owner: k.owner, Kind: k.kind, SSRC: have}
		if err := p.peer.RemoveTrack(ref); err != nil {
			c.logger.Warn().Err(err).Str("user", string(p.user)).Str("owner", string(k.owner)).Str("kind", string(k.kind)).Msg("remove track")
		}
		delete(p.tracks, k)
	}
	for k, s := range want {
		if _, ok := p.tracks[k]; ok {
			continue
		}
		ref := core.TrackRef{Owner: k.owner, Kind: k.kind, SSRC: s}
		if err := p.peer.AddTrack(ref); err != nil {
			c.logger.Warn().Err(err).Str("user", string(p.user)).Str("owner", string(k.owner)).Str("kind", string(k.kind)).Msg("add track")
			continue
		}
		p.tracks[k] = s
	}
}

// markForDelta renegotiates the participants whose forwarded set a delta touches.
func (c *channel) markForDelta(delta domain.SsrcDelta) {
	touch := func(m domain.SsrcMapping) {
		if m.StreamKind.IsScreen() {
			c.markDirty(c.subs.Watchers(m.UserID)...)
			return
		}
		c.markAllDirty(m.UserID)
	}
	for _, m := range delta.Removed {
		touch(m)
	}
	for _, m := range delta.Added {
		touch(m)
	}
}

func (c *channel) addICECandidate(user domain.UserID, cand core.ICECandidate) error {
	p := c.find(user)
	if p == nil {
		return domain.ErrNotInChannel
	}
	if err := p.peer.AddICECandidate(cand); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidICECandidate, err)
	}
	return nil
}

func (c *channel) registerSsrc(user domain.UserID, conn string, kind domain.StreamKind, s domain.SSRC) error {
	p := c.find(user)
	if p == nil || (conn != "" && p.conn != conn) {
		return domain.ErrNotInChannel
	}
	delta, err := c.ssrcs.Register(user, kind, s)
	if err != nil {
		return err
	}
	c.publishDelta(user, delta)
	return nil
}

func (c *channel) unregisterSsrc(user domain.UserID, kind domain.StreamKind) error {
	if c.find(user) == nil {
		return domain.ErrNotInChannel
	}
	if err := kind.Validate(); err != nil {
		return err
	}
	if delta, ok := c.ssrcs.Unregister(user, kind); ok {
		c.publishDelta(user, delta)
	}
	return nil
}

func (c *channel) publishDelta(owner domain.UserID, delta domain.SsrcDelta) {
	if delta.Empty() {
		return
	}
	c.broadcast(owner, core.EventSsrcMapping, delta)
	c.markForDelta(delta)
}

func (c *channel) watch(watcher, streamer domain.UserID) error {
	if c.find(watcher) == nil {
		return domain.ErrNotInChannel
	}
	s := c.find(streamer)
	if s == nil {
		return domain.ErrUnknownStreamer
	}
	if !s.state.ScreenSharing {
		return domain.ErrNotSharing
	}
	if c.subs.Add(watcher, streamer) {
		c.markDirty(watcher)
		c.logger.Debug().Str("watcher", string(watcher)).Str("streamer", string(streamer)).Msg("watch")
	}
	return nil
}

func (c *channel) unwatch(watcher, streamer domain.UserID) error {
	if c.find(watcher) == nil {
		return domain.ErrNotInChannel
	}
	if c.subs.Remove(watcher, streamer) {
		c.markDirty(watcher)
		c.logger.Debug().Str("watcher", string(watcher)).Str("streamer", string(streamer)).Msg("unwatch")
	}
	return nil
}
