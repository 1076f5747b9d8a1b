// Package sfu forwards RTP from each published stream to the peers that
// subscribe to it. It never inspects payloads.
package sfu

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechan/internal/domain"
)

type RelayManager struct {
	mu     sync.RWMutex
	relays map[Key]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[Key]*Relay),
	}
}

// getOrCreateLocked must be called with m.mu held. Anything attached to the
// returned relay has to be attached before m.mu is released, or dropIfIdle
// may discard it.
func (m *RelayManager) getOrCreateLocked(key Key) *Relay {
	r, ok := m.relays[key]
	if !ok {
		r = NewRelay(key)
		m.relays[key] = r
	}
	return r
}

// StartRelay makes src the source for key and starts its loop. A previous
// source for the same key is stopped; subscribers carry over. keyframe, if
// set, asks the publisher for a fresh keyframe.
func (m *RelayManager) StartRelay(ctx context.Context, key Key, src Source, keyframe func()) {
	logger := log.With().
		Str("module", "app.sfu").
		Str("channel", string(key.Channel)).
		Str("owner", string(key.Owner)).
		Str("kind", string(key.Kind)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	r := m.getOrCreateLocked(key)
	r.mu.Lock()
	if r.cancel != nil {
		logger.Info().Msg("replacing existing relay source")
		r.cancel()
	}
	r.src = src
	r.keyframe = keyframe
	r.cancel = cancel
	r.mu.Unlock()
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go func() {
		r.loop(relayCtx, src, &logger)
		m.sourceEnded(r, src)
	}()
}

func (m *RelayManager) sourceEnded(r *Relay, src Source) {
	r.mu.Lock()
	if r.src == src {
		r.src = nil
		r.keyframe = nil
		r.cancel = nil
	}
	r.mu.Unlock()
	m.dropIfIdle(r)
}

// Subscribe attaches sink for dst to the relay of key.
func (m *RelayManager) Subscribe(key Key, dst domain.UserID, sink Sink) {
	m.mu.Lock()
	keyframe := m.getOrCreateLocked(key).AddOutTrack(NewOutTrack(dst, sink))
	m.mu.Unlock()
	if keyframe != nil {
		keyframe()
	}
}

func (m *RelayManager) Unsubscribe(key Key, dst domain.UserID) {
	m.mu.RLock()
	r, ok := m.relays[key]
	m.mu.RUnlock()
	if !ok {
		return
	}
	r.removeOutTrack(dst)
	m.dropIfIdle(r)
}

// StopOwner stops reading every stream owner publishes in channel.
// Subscribers detach themselves when their peers drop the tracks.
func (m *RelayManager) StopOwner(channel domain.ChannelID, owner domain.UserID) {
	for _, r := range m.matching(func(k Key) bool { return k.Channel == channel && k.Owner == owner }) {
		r.mu.Lock()
		if r.cancel != nil {
			r.cancel()
		}
		r.src, r.keyframe, r.cancel = nil, nil, nil
		r.mu.Unlock()
		m.dropIfIdle(r)
	}
}

// DropSubscriber detaches dst from every relay in channel.
func (m *RelayManager) DropSubscriber(channel domain.ChannelID, dst domain.UserID) {
	for _, r := range m.matching(func(k Key) bool { return k.Channel == channel }) {
		r.removeOutTrack(dst)
		m.dropIfIdle(r)
	}
}

// HasSource reports whether packets for key are being read.
func (m *RelayManager) HasSource(key Key) bool {
	m.mu.RLock()
	r, ok := m.relays[key]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.src != nil
}

func (m *RelayManager) Subscribers(key Key) []domain.UserID {
	m.mu.RLock()
	r, ok := m.relays[key]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.Subscribers()
}

// Len counts relays with a source or at least one subscriber.
func (m *RelayManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays)
}

func (m *RelayManager) matching(pred func(Key) bool) []*Relay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Relay
	for k, r := range m.relays {
		if pred(k) {
			out = append(out, r)
		}
	}
	return out
}

func (m *RelayManager) dropIfIdle(r *Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relays[r.Key] == r && r.idle() {
		delete(m.relays, r.Key)
	}
}
