package signal

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

var errUnknownType = fmt.Errorf("%w: unknown message type", domain.ErrValidation)

type channelRequest struct {
	ChannelID domain.ChannelID `json:"channelId"`
}

type answerRequest struct {
	ChannelID domain.ChannelID `json:"channelId"`
	SDP       string           `json:"sdp"`
}

type candidateRequest struct {
	ChannelID domain.ChannelID `json:"channelId"`
	core.ICECandidate
}

type watchRequest struct {
	ChannelID domain.ChannelID `json:"channelId"`
	Streamer  domain.UserID    `json:"streamerUserId"`
}

type voiceStateRequest struct {
	ChannelID domain.ChannelID `json:"channelId"`
	domain.VoiceStatePatch
}

type speakingRequest struct {
	ChannelID domain.ChannelID `json:"channelId"`
	Speaking  *bool            `json:"isSpeaking"`
}

type registerSsrcRequest struct {
	ChannelID domain.ChannelID  `json:"channelId"`
	Kind      domain.StreamKind `json:"streamKind"`
	SSRC      domain.SSRC       `json:"ssrc"`
}

type unregisterSsrcRequest struct {
	ChannelID domain.ChannelID  `json:"channelId"`
	Kind      domain.StreamKind `json:"streamKind"`
}

type pong struct {
	Type string `json:"type"`
}

type whoAmI struct {
	UserID    domain.UserID    `json:"userId"`
	ChannelID domain.ChannelID `json:"channelId,omitempty"`
}

// decode reports malformed payloads as validation errors.
func decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return v, nil
}
