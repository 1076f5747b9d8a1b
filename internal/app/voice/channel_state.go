package voice

import (
	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

func (c *channel) updateVoiceState(user domain.UserID, patch domain.VoiceStatePatch) (domain.VoiceState, error) {
	p := c.find(user)
	if p == nil {
		return domain.VoiceState{}, domain.ErrNotInChannel
	}
	before := p.state
	st := &p.state

	if patch.Muted != nil {
		st.Muted = *patch.Muted
	}
	if patch.Deafened != nil {
		st.Deafened = *patch.Deafened
	}

	if patch.CameraOn != nil && *patch.CameraOn != st.CameraOn {
		st.CameraOn = *patch.CameraOn
		c.markAllDirty(user)
		if st.CameraOn {
			c.broadcast("", core.EventVideoStreamStarted, core.VideoStreamPayload{UserID: user, Kind: domain.StreamCameraVideo})
		} else {
			c.dropStream(user, domain.StreamCameraVideo)
			c.broadcast("", core.EventVideoStreamStopped, core.VideoStreamPayload{UserID: user, Kind: domain.StreamCameraVideo})
		}
	}
	if st.CameraOn && patch.CameraSSRC != nil {
		c.registerOwn(user, domain.StreamCameraVideo, *patch.CameraSSRC)
	}

	if patch.ScreenSharing != nil && *patch.ScreenSharing != st.ScreenSharing {
		st.ScreenSharing = *patch.ScreenSharing
		if st.ScreenSharing {
			c.broadcast("", core.EventVideoStreamStarted, core.VideoStreamPayload{UserID: user, Kind: domain.StreamScreenVideo})
		} else {
			c.stopScreenShare(user)
		}
	}
	if st.ScreenSharing {
		if patch.ScreenVideoSSRC != nil {
			c.registerOwn(user, domain.StreamScreenVideo, *patch.ScreenVideoSSRC)
		}
		if patch.ScreenAudioSSRC != nil {
			c.registerOwn(user, domain.StreamScreenAudio, *patch.ScreenAudioSSRC)
		}
	}

	if p.state != before {
		c.broadcast(user, core.EventVoiceStateChanged, core.NewVoiceStatePayload(user, p.state))
	}
	return p.state, nil
}

// stopScreenShare drops every subscription to user as one batch; the watchers
// are renegotiated together by the end-of-command flush.
func (c *channel) stopScreenShare(user domain.UserID) {
	watchers := c.subs.RemoveStreamer(user)
	c.markDirty(watchers...)
	c.dropStream(user, domain.StreamScreenVideo)
	c.dropStream(user, domain.StreamScreenAudio)
	c.broadcast("", core.EventVideoStreamStopped, core.VideoStreamPayload{UserID: user, Kind: domain.StreamScreenVideo})
	c.logger.Debug().Str("streamer", string(user)).Int("watchers", len(watchers)).Msg("screen share stopped")
}

func (c *channel) dropStream(user domain.UserID, kind domain.StreamKind) {
	if delta, ok := c.ssrcs.Unregister(user, kind); ok {
		c.publishDelta(user, delta)
	}
}

// registerOwn applies an SSRC carried by a state patch; the patch was
// validated before it reached the channel.
func (c *channel) registerOwn(user domain.UserID, kind domain.StreamKind, s domain.SSRC) {
	delta, err := c.ssrcs.Register(user, kind, s)
	if err != nil {
		c.logger.Warn().Err(err).Str("user", string(user)).Msg("register ssrc from voice state")
		return
	}
	c.publishDelta(user, delta)
}

func (c *channel) updateSpeaking(user domain.UserID, speaking bool) error {
	p := c.find(user)
	if p == nil {
		return domain.ErrNotInChannel
	}
	if p.state.Speaking == speaking {
		return nil
	}
	p.state.Speaking = speaking
	c.broadcast(user, core.EventSpeakingStateChanged, core.SpeakingPayload{UserID: user, Speaking: speaking})
	return nil
}

func (c *channel) setServerState(user domain.UserID, patch domain.ServerStatePatch) (domain.VoiceState, error) {
	p := c.find(user)
	if p == nil {
		return domain.VoiceState{}, domain.ErrNotInChannel
	}
	before := p.state
	if patch.ServerMuted != nil {
		p.state.ServerMuted = *patch.ServerMuted
	}
	if patch.ServerDeafened != nil {
		p.state.ServerDeafened = *patch.ServerDeafened
	}
	if p.state != before {
		c.broadcast("", core.EventServerVoiceStateChanged, core.NewVoiceStatePayload(user, p.state))
		c.logger.Info().Str("user", string(user)).
			Bool("server_muted", p.state.ServerMuted).
			Bool("server_deafened", p.state.ServerDeafened).
			Msg("server voice state applied")
	}
	return p.state, nil
}
