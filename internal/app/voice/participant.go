package voice

import (
	"time"

	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

type trackKey struct {
	owner domain.UserID
	kind  domain.StreamKind
}

// participant is one ParticipantConnection. It is replaced, never reused,
// when the same user joins again.
type participant struct {
	user     domain.UserID
	conn     string
	joinedAt time.Time
	state    domain.VoiceState
	peer     core.PeerConnection
	// tracks is what the peer currently forwards to this participant.
	tracks map[trackKey]domain.SSRC
}

func (p *participant) view() domain.Participant {
	return domain.Participant{UserID: p.user, JoinedAt: p.joinedAt, State: p.state}
}

func (p *participant) location(id domain.ChannelID) location {
	return location{channel: id, conn: p.conn}
}
