package signal

import (
	"context"

	"github.com/dkeye/voicechan/internal/domain"
)

func (ctl *SignalWSController) handleAnswer(ctx context.Context, user domain.UserID, data []byte) error {
	req, err := decode[answerRequest](data)
	if err != nil {
		return err
	}
	return ctl.Sessions.Answer(ctx, req.ChannelID, user, req.SDP)
}

func (ctl *SignalWSController) handleCandidate(ctx context.Context, user domain.UserID, data []byte) error {
	req, err := decode[candidateRequest](data)
	if err != nil {
		return err
	}
	return ctl.Sessions.AddICECandidate(ctx, req.ChannelID, user, req.ICECandidate)
}

func (ctl *SignalWSController) handleRegisterSsrc(ctx context.Context, user domain.UserID, data []byte) error {
	req, err := decode[registerSsrcRequest](data)
	if err != nil {
		return err
	}
	return ctl.Sessions.RegisterSsrc(ctx, req.ChannelID, user, req.Kind, req.SSRC)
}

func (ctl *SignalWSController) handleUnregisterSsrc(ctx context.Context, user domain.UserID, data []byte) error {
	req, err := decode[unregisterSsrcRequest](data)
	if err != nil {
		return err
	}
	return ctl.Sessions.UnregisterSsrc(ctx, req.ChannelID, user, req.Kind)
}
