package signal

import (
	"context"

	"github.com/dkeye/voicechan/internal/domain"
)

func (ctl *SignalWSController) handleJoin(ctx context.Context, user domain.UserID, data []byte) (any, error) {
	req, err := decode[channelRequest](data)
	if err != nil {
		return nil, err
	}
	return ctl.Sessions.Join(ctx, req.ChannelID, user)
}

func (ctl *SignalWSController) handleLeave(ctx context.Context, user domain.UserID, data []byte) error {
	req, err := decode[channelRequest](data)
	if err != nil {
		return err
	}
	return ctl.Sessions.Leave(ctx, req.ChannelID, user)
}

func (ctl *SignalWSController) handleWatch(ctx context.Context, user domain.UserID, data []byte) error {
	req, err := decode[watchRequest](data)
	if err != nil {
		return err
	}
	return ctl.Sessions.Watch(ctx, req.ChannelID, user, req.Streamer)
}

func (ctl *SignalWSController) handleUnwatch(ctx context.Context, user domain.UserID, data []byte) error {
	req, err := decode[watchRequest](data)
	if err != nil {
		return err
	}
	return ctl.Sessions.Unwatch(ctx, req.ChannelID, user, req.Streamer)
}
