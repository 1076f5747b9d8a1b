package core

import "github.com/dkeye/voicechan/internal/domain"

// Transport delivers named events to one user, reliably and in order.
// Implementations must not block the caller.
type Transport interface {
	Send(to domain.UserID, ev Event)
}

// PresenceObserver is notified of membership changes from channel actors.
// Observers are fixed at registry construction and live as long as it does.
type PresenceObserver interface {
	ParticipantJoined(channel domain.ChannelID, user domain.UserID)
	ParticipantLeft(channel domain.ChannelID, user domain.UserID)
}
