package voice

import (
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechan/internal/app/negotiation"
	"github.com/dkeye/voicechan/internal/app/ssrc"
	"github.com/dkeye/voicechan/internal/app/subs"
	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

// channel is one VoiceChannelSession. Everything below the mailbox is owned
// by the run goroutine.
type channel struct {
	id        domain.ChannelID
	createdAt time.Time
	reg       *Registry
	logger    zerolog.Logger

	mu     sync.Mutex
	queue  []command
	wake   chan struct{}
	closed bool
	done   chan struct{}

	participants []*participant
	ssrcs        *ssrc.Directory
	subs         *subs.Table
	sched        *negotiation.Scheduler
	dirty        []domain.UserID
}

func newChannel(reg *Registry, id domain.ChannelID) *channel {
	c := &channel{
		id:        id,
		createdAt: time.Now(),
		reg:       reg,
		logger:    log.With().Str("module", "app.voice").Str("channel", string(id)).Logger(),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		ssrcs:     ssrc.NewDirectory(),
		subs:      subs.NewTable(id),
	}
	c.sched = negotiation.NewScheduler(id, reg.opts.Negotiation, reg.opts.Clock, c)
	return c
}

// post appends cmd to the mailbox. It never blocks and reports false once
// the channel has retired.
func (c *channel) post(cmd command) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, cmd)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *channel) next() (command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	cmd := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return cmd, true
}

// closeIfIdle is called with the registry lock held.
func (c *channel) closeIfIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.participants) > 0 || len(c.queue) > 0 {
		return false
	}
	c.closed = true
	return true
}

func (c *channel) run() {
	defer close(c.done)
	for range c.wake {
		for {
			cmd, ok := c.next()
			if !ok {
				break
			}
			c.process(cmd)
			if len(c.participants) == 0 && c.reg.retire(c) {
				c.sched.Close()
				c.logger.Info().Msg("session destroyed")
				return
			}
		}
	}
}

// process runs one command, flushes the renegotiations it caused, then
// answers. A panic is contained to the command that raised it.
func (c *channel) process(cmd command) {
	var (
		v   any
		err error
	)
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("command panicked")
			c.dirty = nil
			cmd.respond(nil, fmt.Errorf("internal error: %v", rec))
		}
	}()
	v, err = c.handle(cmd)
	c.flush()
	cmd.respond(v, err)
}

func (c *channel) handle(cmd command) (any, error) {
	switch m := cmd.(type) {
	case *joinCmd:
		return c.join(m.user)
	case *leaveCmd:
		return nil, c.leave(m.user, m.conn, m.cause)
	case *answerCmd:
		if c.find(m.user) == nil {
			return nil, domain.ErrNotInChannel
		}
		return nil, c.sched.Answer(m.user, m.sdp)
	case *iceCmd:
		return nil, c.addICECandidate(m.user, m.candidate)
	case *watchCmd:
		return nil, c.watch(m.watcher, m.streamer)
	case *unwatchCmd:
		return nil, c.unwatch(m.watcher, m.streamer)
	case *voiceStateCmd:
		return c.updateVoiceState(m.user, m.patch)
	case *speakingCmd:
		return nil, c.updateSpeaking(m.user, m.speaking)
	case *registerSsrcCmd:
		return nil, c.registerSsrc(m.user, m.conn, m.kind, m.ssrc)
	case *unregisterSsrcCmd:
		return nil, c.unregisterSsrc(m.user, m.kind)
	case *serverStateCmd:
		return c.setServerState(m.user, m.patch)
	case *timeoutCmd:
		c.sched.Timeout(m.user, m.gen)
		return nil, nil
	case *infoCmd:
		return c.info(), nil
	case *shutdownCmd:
		for _, p := range slices.Clone(c.participants) {
			c.remove(p, domain.ErrShuttingDown)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unhandled command %T", cmd)
}

func (c *channel) find(user domain.UserID) *participant {
	for _, p := range c.participants {
		if p.user == user {
			return p
		}
	}
	return nil
}

func (c *channel) markDirty(users ...domain.UserID) {
	for _, u := range users {
		if !slices.Contains(c.dirty, u) {
			c.dirty = append(c.dirty, u)
		}
	}
}

func (c *channel) markAllDirty(except domain.UserID) {
	for _, p := range c.participants {
		if p.user != except {
			c.markDirty(p.user)
		}
	}
}

// flush renegotiates every participant the command touched, once each.
// Forced disconnects during the flush can mark more participants.
func (c *channel) flush() {
	for len(c.dirty) > 0 {
		batch := c.dirty
		c.dirty = nil
		c.sched.Trigger(batch...)
	}
}

func (c *channel) send(to domain.UserID, name core.EventName, payload any) {
	c.reg.opts.Transport.Send(to, core.Event{Name: name, Channel: c.id, Payload: payload})
}

func (c *channel) broadcast(except domain.UserID, name core.EventName, payload any) {
	for _, p := range c.participants {
		if p.user != except {
			c.send(p.user, name, payload)
		}
	}
}

func (c *channel) participantViews(except domain.UserID) []domain.Participant {
	out := make([]domain.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		if p.user != except {
			out = append(out, p.view())
		}
	}
	return out
}

func (c *channel) info() domain.ChannelInfo {
	return domain.ChannelInfo{
		ChannelID:     c.id,
		CreatedAt:     c.createdAt,
		Participants:  c.participantViews(""),
		SsrcMappings:  c.ssrcs.Snapshot(),
		Subscriptions: c.subs.Snapshot(),
	}
}
