// Package voice owns live voice channel sessions. Each channel runs as a
// single actor goroutine, so all mutations for one channel are applied in
// arrival order while different channels proceed in parallel.
package voice

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/voicechan/internal/app/negotiation"
	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

type Options struct {
	Engine      core.MediaEngine
	Transport   core.Transport
	Negotiation negotiation.Config
	// Clock drives answer timeouts; nil means wall clock.
	Clock     negotiation.Clock
	Observers []core.PresenceObserver
}

type location struct {
	channel domain.ChannelID
	conn    string
}

// Registry is the process-scoped set of live sessions. It is constructed at
// startup and torn down with Close.
type Registry struct {
	opts Options
	ctx  context.Context
	stop context.CancelFunc

	mu        sync.Mutex
	channels  map[domain.ChannelID]*channel
	locations map[domain.UserID]location
	closed    bool
}

func NewRegistry(ctx context.Context, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = negotiation.RealClock{}
	}
	ctx, stop := context.WithCancel(ctx)
	return &Registry{
		opts:      opts,
		ctx:       ctx,
		stop:      stop,
		channels:  make(map[domain.ChannelID]*channel),
		locations: make(map[domain.UserID]location),
	}
}

// route finds the channel actor, creating it when create is set, and
// enqueues cmd. Enqueue never blocks, so holding mu here is safe.
func (r *Registry) route(id domain.ChannelID, create bool, cmd command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.ErrShuttingDown
	}
	c, ok := r.channels[id]
	if !ok {
		if !create {
			return domain.ErrUnknownChannel
		}
		c = newChannel(r, id)
		r.channels[id] = c
		go c.run()
		log.Info().Str("module", "app.registry").Str("channel", string(id)).Msg("session created")
	}
	c.post(cmd)
	return nil
}

func (r *Registry) call(ctx context.Context, id domain.ChannelID, create bool, cmd command) (any, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if err := r.route(id, create, cmd); err != nil {
		return nil, err
	}
	select {
	case res := <-cmd.wait():
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Join adds user to channel and returns what the client needs to render it.
// A user already in another channel leaves it first.
func (r *Registry) Join(ctx context.Context, id domain.ChannelID, user domain.UserID) (domain.Snapshot, error) {
	if err := user.Validate(); err != nil {
		return domain.Snapshot{}, err
	}
	if loc, ok := r.locate(user); ok && loc.channel != id {
		if err := r.Leave(ctx, loc.channel, user); err != nil && !errors.Is(err, domain.ErrValidation) {
			return domain.Snapshot{}, err
		}
	}
	v, err := r.call(ctx, id, true, &joinCmd{request: newRequest(), user: user})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return v.(domain.Snapshot), nil
}

func (r *Registry) Leave(ctx context.Context, id domain.ChannelID, user domain.UserID) error {
	_, err := r.call(ctx, id, false, &leaveCmd{request: newRequest(), user: user})
	return err
}

// Disconnect removes user from whatever channel it is in. It is used when
// the signaling connection goes away.
func (r *Registry) Disconnect(ctx context.Context, user domain.UserID) error {
	loc, ok := r.locate(user)
	if !ok {
		return nil
	}
	_, err := r.call(ctx, loc.channel, false, &leaveCmd{
		request: newRequest(),
		user:    user,
		conn:    loc.conn,
		cause:   domain.ErrTransportFailure,
	})
	return err
}

func (r *Registry) Answer(ctx context.Context, id domain.ChannelID, user domain.UserID, sdp string) error {
	if err := validateAnswer(sdp); err != nil {
		return err
	}
	_, err := r.call(ctx, id, false, &answerCmd{request: newRequest(), user: user, sdp: sdp})
	return err
}

func (r *Registry) AddICECandidate(ctx context.Context, id domain.ChannelID, user domain.UserID, cand core.ICECandidate) error {
	if err := validateCandidate(cand); err != nil {
		return err
	}
	_, err := r.call(ctx, id, false, &iceCmd{request: newRequest(), user: user, candidate: cand})
	return err
}

// Watch subscribes watcher to streamer's screen share. A streamer that is not
// sharing yields domain.ErrNotSharing and changes nothing.
func (r *Registry) Watch(ctx context.Context, id domain.ChannelID, watcher, streamer domain.UserID) error {
	if watcher == streamer {
		return fmt.Errorf("%w: cannot watch own stream", domain.ErrValidation)
	}
	_, err := r.call(ctx, id, false, &watchCmd{request: newRequest(), watcher: watcher, streamer: streamer})
	return err
}

func (r *Registry) Unwatch(ctx context.Context, id domain.ChannelID, watcher, streamer domain.UserID) error {
	_, err := r.call(ctx, id, false, &unwatchCmd{request: newRequest(), watcher: watcher, streamer: streamer})
	return err
}

func (r *Registry) UpdateVoiceState(ctx context.Context, id domain.ChannelID, user domain.UserID, patch domain.VoiceStatePatch) (domain.VoiceState, error) {
	if err := validatePatch(patch); err != nil {
		return domain.VoiceState{}, err
	}
	v, err := r.call(ctx, id, false, &voiceStateCmd{request: newRequest(), user: user, patch: patch})
	if err != nil {
		return domain.VoiceState{}, err
	}
	return v.(domain.VoiceState), nil
}

func (r *Registry) UpdateSpeaking(ctx context.Context, id domain.ChannelID, user domain.UserID, speaking bool) error {
	_, err := r.call(ctx, id, false, &speakingCmd{request: newRequest(), user: user, speaking: speaking})
	return err
}

func (r *Registry) RegisterSsrc(ctx context.Context, id domain.ChannelID, user domain.UserID, kind domain.StreamKind, ssrc domain.SSRC) error {
	_, err := r.call(ctx, id, false, &registerSsrcCmd{request: newRequest(), user: user, kind: kind, ssrc: ssrc})
	return err
}

func (r *Registry) UnregisterSsrc(ctx context.Context, id domain.ChannelID, user domain.UserID, kind domain.StreamKind) error {
	_, err := r.call(ctx, id, false, &unregisterSsrcCmd{request: newRequest(), user: user, kind: kind})
	return err
}

// SetServerVoiceState applies an admin override to user in its current channel.
func (r *Registry) SetServerVoiceState(ctx context.Context, user domain.UserID, patch domain.ServerStatePatch) (domain.VoiceState, error) {
	if patch.Empty() {
		return domain.VoiceState{}, fmt.Errorf("%w: empty server state", domain.ErrValidation)
	}
	loc, ok := r.locate(user)
	if !ok {
		return domain.VoiceState{}, domain.ErrNotInChannel
	}
	v, err := r.call(ctx, loc.channel, false, &serverStateCmd{request: newRequest(), user: user, patch: patch})
	if err != nil {
		return domain.VoiceState{}, err
	}
	return v.(domain.VoiceState), nil
}

// MoveUser leaves the current channel and joins target, so observers of both
// channels see an ordinary leave and join. The moved user receives userMoved
// with the new snapshot.
func (r *Registry) MoveUser(ctx context.Context, user domain.UserID, target domain.ChannelID) (domain.Snapshot, error) {
	if err := target.Validate(); err != nil {
		return domain.Snapshot{}, err
	}
	loc, ok := r.locate(user)
	if !ok {
		return domain.Snapshot{}, domain.ErrNotInChannel
	}
	if loc.channel == target {
		v, err := r.call(ctx, target, false, &infoCmd{request: newRequest()})
		if err != nil {
			return domain.Snapshot{}, err
		}
		info := v.(domain.ChannelInfo)
		others := slices.DeleteFunc(info.Participants, func(p domain.Participant) bool { return p.UserID == user })
		return domain.Snapshot{ChannelID: target, Participants: others, SsrcMappings: info.SsrcMappings}, nil
	}
	if err := r.Leave(ctx, loc.channel, user); err != nil {
		return domain.Snapshot{}, err
	}
	snap, err := r.Join(ctx, target, user)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("user", string(user)).
			Str("from", string(loc.channel)).Str("to", string(target)).Msg("move failed after leave, user is in no channel")
		return domain.Snapshot{}, err
	}
	r.opts.Transport.Send(user, core.Event{
		Name:    core.EventUserMoved,
		Channel: target,
		Payload: core.UserMovedPayload{UserID: user, From: loc.channel, To: target, Snapshot: snap},
	})
	log.Info().Str("module", "app.registry").Str("user", string(user)).
		Str("from", string(loc.channel)).Str("to", string(target)).Msg("user moved")
	return snap, nil
}

// Kick force-leaves user from its current channel.
func (r *Registry) Kick(ctx context.Context, user domain.UserID) error {
	loc, ok := r.locate(user)
	if !ok {
		return domain.ErrNotInChannel
	}
	_, err := r.call(ctx, loc.channel, false, &leaveCmd{request: newRequest(), user: user, conn: loc.conn})
	return err
}

// Locate returns the channel user is currently joined to.
func (r *Registry) Locate(user domain.UserID) (domain.ChannelID, bool) {
	loc, ok := r.locate(user)
	return loc.channel, ok
}

func (r *Registry) Channel(ctx context.Context, id domain.ChannelID) (domain.ChannelInfo, error) {
	v, err := r.call(ctx, id, false, &infoCmd{request: newRequest()})
	if err != nil {
		return domain.ChannelInfo{}, err
	}
	return v.(domain.ChannelInfo), nil
}

// Channels lists live sessions ordered by channel id. Sessions destroyed
// while listing are skipped.
func (r *Registry) Channels(ctx context.Context) ([]domain.ChannelInfo, error) {
	out := make([]domain.ChannelInfo, 0)
	for _, id := range r.channelIDs() {
		info, err := r.Channel(ctx, id)
		if errors.Is(err, domain.ErrUnknownChannel) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Close rejects new requests, force-leaves every participant of every
// channel in parallel and waits for the actors to exit.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	chans := make([]*channel, 0, len(r.channels))
	for _, c := range r.channels {
		chans = append(chans, c)
	}
	r.mu.Unlock()

	var wg conc.WaitGroup
	for _, c := range chans {
		wg.Go(func() {
			cmd := &shutdownCmd{request: newRequest()}
			if !c.post(cmd) {
				return
			}
			select {
			case <-c.done:
			case <-ctx.Done():
			}
		})
	}
	wg.Wait()
	r.stop()
	log.Info().Str("module", "app.registry").Int("channels", len(chans)).Msg("registry closed")
	return ctx.Err()
}

func (r *Registry) channelIDs() []domain.ChannelID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]domain.ChannelID, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) locate(user domain.UserID) (location, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc, ok := r.locations[user]
	return loc, ok
}

// claim records user's live connection and returns what it replaced.
func (r *Registry) claim(user domain.UserID, loc location) (location, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.locations[user]
	r.locations[user] = loc
	return prev, ok
}

func (r *Registry) release(user domain.UserID, loc location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locations[user] == loc {
		delete(r.locations, user)
	}
}

func (r *Registry) isCurrent(user domain.UserID, conn string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locations[user].conn == conn
}

// postTo enqueues cmd on an existing channel without waiting. It reports
// false if the channel is gone.
func (r *Registry) postTo(id domain.ChannelID, cmd command) bool {
	r.mu.Lock()
	c, ok := r.channels[id]
	r.mu.Unlock()
	return ok && c.post(cmd)
}

// retire removes c from the registry if it is still empty and idle.
func (r *Registry) retire(c *channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !c.closeIfIdle() {
		return false
	}
	if r.channels[c.id] == c {
		delete(r.channels, c.id)
	}
	return true
}
