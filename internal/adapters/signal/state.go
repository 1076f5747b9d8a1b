package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

func (ctl *SignalWSController) handleVoiceState(ctx context.Context, user domain.UserID, data []byte) (any, error) {
	req, err := decode[voiceStateRequest](data)
	if err != nil {
		return nil, err
	}
	st, err := ctl.Sessions.UpdateVoiceState(ctx, req.ChannelID, user, req.VoiceStatePatch)
	if err != nil {
		return nil, err
	}
	return core.NewVoiceStatePayload(user, st), nil
}

func (ctl *SignalWSController) handleSpeaking(ctx context.Context, user domain.UserID, data []byte) error {
	req, err := decode[speakingRequest](data)
	if err != nil {
		return err
	}
	if req.Speaking == nil {
		return fmt.Errorf("%w: isSpeaking required", domain.ErrValidation)
	}
	if !ctl.Speaking.Allow(user) {
		return domain.ErrRateLimited
	}
	return ctl.Sessions.UpdateSpeaking(ctx, req.ChannelID, user, *req.Speaking)
}
