package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

type update struct {
	channel domain.ChannelID
	user    domain.UserID
	joined  bool
}

// Observer feeds membership changes from channel actors into a Store.
// Notifications are queued and never block the caller; when the queue is
// full the update is dropped and logged.
type Observer struct {
	store   Store
	updates chan update
	timeout time.Duration
}

var _ core.PresenceObserver = (*Observer)(nil)

func NewObserver(store Store, queue int) *Observer {
	if queue <= 0 {
		queue = 256
	}
	return &Observer{
		store:   store,
		updates: make(chan update, queue),
		timeout: 2 * time.Second,
	}
}

func (o *Observer) ParticipantJoined(channel domain.ChannelID, user domain.UserID) {
	o.enqueue(update{channel: channel, user: user, joined: true})
}

func (o *Observer) ParticipantLeft(channel domain.ChannelID, user domain.UserID) {
	o.enqueue(update{channel: channel, user: user})
}

func (o *Observer) enqueue(u update) {
	select {
	case o.updates <- u:
	default:
		log.Warn().Str("module", "presence").Str("channel", string(u.channel)).Str("user", string(u.user)).Msg("presence queue full, update dropped")
	}
}

// Run resets the store and applies queued updates until ctx is done.
func (o *Observer) Run(ctx context.Context) error {
	if err := o.store.Reset(ctx); err != nil {
		log.Warn().Err(err).Str("module", "presence").Msg("reset")
	}
	log.Info().Str("module", "presence").Msg("presence mirror running")
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-o.updates:
			o.apply(ctx, u)
		}
	}
}

func (o *Observer) apply(ctx context.Context, u update) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	var err error
	if u.joined {
		err = o.store.Joined(ctx, u.channel, u.user)
	} else {
		err = o.store.Left(ctx, u.channel, u.user)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "presence").Str("channel", string(u.channel)).Str("user", string(u.user)).Bool("joined", u.joined).Msg("presence update")
	}
}
