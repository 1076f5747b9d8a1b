package voice

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

var errSuperseded = errors.New("superseded by a newer connection")

func (c *channel) join(user domain.UserID) (domain.Snapshot, error) {
	if old := c.find(user); old != nil {
		c.logger.Info().Str("user", string(user)).Str("conn", old.conn).Msg("reconnect supersedes connection")
		c.remove(old, errSuperseded)
	}

	snap := domain.Snapshot{
		ChannelID:    c.id,
		Participants: c.participantViews(user),
		SsrcMappings: c.ssrcs.Snapshot(),
	}

	p := &participant{
		user:     user,
		conn:     uuid.NewString(),
		joinedAt: time.Now(),
		tracks:   make(map[trackKey]domain.SSRC),
	}
	peer, err := c.reg.opts.Engine.NewPeer(c.reg.ctx, c.id, user, c.hooks(user, p.conn))
	if err != nil {
		c.logger.Error().Err(err).Str("user", string(user)).Msg("create peer failed")
		return domain.Snapshot{}, fmt.Errorf("%w: %w", domain.ErrTransportFailure, err)
	}
	p.peer = peer

	c.participants = append(c.participants, p)
	c.sched.Add(user)
	if prev, ok := c.reg.claim(user, p.location(c.id)); ok && prev.channel != c.id {
		// A concurrent join elsewhere raced us; the older connection goes.
		c.reg.postTo(prev.channel, &leaveCmd{user: user, conn: prev.conn, cause: errSuperseded})
	}

	c.broadcast(user, core.EventParticipantJoined, core.ParticipantPayload{Participant: p.view()})
	if len(snap.SsrcMappings) > 0 {
		c.send(user, core.EventSsrcMappingBatch, core.SsrcBatchPayload{Mappings: snap.SsrcMappings})
	}
	for _, o := range c.reg.opts.Observers {
		o.ParticipantJoined(c.id, user)
	}

	c.markDirty(user)
	c.markAllDirty(user)
	c.logger.Info().Str("user", string(user)).Str("conn", p.conn).Int("participants", len(c.participants)).Msg("participant joined")
	return snap, nil
}

func (c *channel) leave(user domain.UserID, conn string, cause error) error {
	p := c.find(user)
	if p == nil || (conn != "" && p.conn != conn) {
		return domain.ErrNotInChannel
	}
	c.remove(p, cause)
	return nil
}

// remove releases everything p owns and tells the rest of the channel. It is
// the single exit path for leave, reconnect, timeout, transport failure and
// shutdown.
func (c *channel) remove(p *participant, cause error) {
	c.sched.Remove(p.user)
	c.participants = slices.DeleteFunc(c.participants, func(q *participant) bool { return q == p })

	if delta := c.ssrcs.UnregisterAllForUser(p.user); !delta.Empty() {
		c.broadcast(p.user, core.EventSsrcMapping, delta)
	}
	watchers := c.subs.RemoveStreamer(p.user)
	c.subs.RemoveWatcher(p.user)
	if p.state.ScreenSharing {
		c.broadcast(p.user, core.EventVideoStreamStopped, core.VideoStreamPayload{UserID: p.user, Kind: domain.StreamScreenVideo})
	}

	if err := p.peer.Close(); err != nil {
		c.logger.Warn().Err(err).Str("user", string(p.user)).Msg("peer close")
	}

	c.broadcast(p.user, core.EventParticipantLeft, core.ParticipantLeftPayload{UserID: p.user})
	c.reg.release(p.user, p.location(c.id))
	for _, o := range c.reg.opts.Observers {
		o.ParticipantLeft(c.id, p.user)
	}

	c.dirty = slices.DeleteFunc(c.dirty, func(u domain.UserID) bool { return u == p.user })
	c.markDirty(watchers...)
	c.markAllDirty(p.user)

	ev := c.logger.Info()
	if cause != nil {
		ev = c.logger.Warn().AnErr("cause", cause)
	}
	ev.Str("user", string(p.user)).Str("conn", p.conn).Int("participants", len(c.participants)).Msg("participant left")
}

// hooks binds engine callbacks to one connection. Signals from a replaced
// connection are dropped.
func (c *channel) hooks(user domain.UserID, conn string) core.PeerHooks {
	return core.PeerHooks{
		OnICECandidate: func(cand core.ICECandidate) {
			if !c.reg.isCurrent(user, conn) {
				return
			}
			c.reg.opts.Transport.Send(user, core.Event{Name: core.EventICECandidate, Channel: c.id, Payload: cand})
		},
		OnRemoteTrack: func(kind domain.StreamKind, s domain.SSRC) {
			c.post(&registerSsrcCmd{user: user, conn: conn, kind: kind, ssrc: s})
		},
		OnFailed: func(err error) {
			c.post(&leaveCmd{user: user, conn: conn, cause: fmt.Errorf("%w: %w", domain.ErrTransportFailure, err)})
		},
	}
}
