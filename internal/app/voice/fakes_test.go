package voice_test

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicechan/internal/app/negotiation"
	"github.com/dkeye/voicechan/internal/app/negotiation/fakeclock"
	"github.com/dkeye/voicechan/internal/app/voice"
	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

const testAnswer = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

type fakePeer struct {
	mu     sync.Mutex
	user   domain.UserID
	hooks  core.PeerHooks
	offers int
	tracks map[core.TrackRef]struct{}
	closed bool
}

func (p *fakePeer) CreateOffer() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	return "offer", nil
}

func (p *fakePeer) ApplyAnswer(string) error { return nil }

func (p *fakePeer) AddICECandidate(core.ICECandidate) error { return nil }

func (p *fakePeer) AddTrack(ref core.TrackRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks[ref] = struct{}{}
	return nil
}

func (p *fakePeer) RemoveTrack(ref core.TrackRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tracks, ref)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) forwards(owner domain.UserID, kind domain.StreamKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ref := range p.tracks {
		if ref.Owner == owner && ref.Kind == kind {
			return true
		}
	}
	return false
}

type fakeEngine struct {
	mu    sync.Mutex
	peers map[domain.UserID][]*fakePeer
}

func (e *fakeEngine) NewPeer(_ context.Context, _ domain.ChannelID, user domain.UserID, hooks core.PeerHooks) (core.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := &fakePeer{user: user, hooks: hooks, tracks: make(map[core.TrackRef]struct{})}
	e.peers[user] = append(e.peers[user], p)
	return p, nil
}

// peer returns the most recent connection created for user.
func (e *fakeEngine) peer(user domain.UserID) *fakePeer {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps := e.peers[user]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

func (e *fakeEngine) count(user domain.UserID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.peers[user])
}

type fakeTransport struct {
	mu     sync.Mutex
	events map[domain.UserID][]core.Event
}

func (t *fakeTransport) Send(to domain.UserID, ev core.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[to] = append(t.events[to], ev)
}

func (t *fakeTransport) of(user domain.UserID, name core.EventName) []core.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []core.Event
	for _, ev := range t.events[user] {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (t *fakeTransport) users() []domain.UserID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.UserID, 0, len(t.events))
	for u := range t.events {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

func (t *fakeTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.events)
}

type recordingObserver struct {
	mu     sync.Mutex
	joined []domain.UserID
	left   []domain.UserID
}

func (o *recordingObserver) ParticipantJoined(_ domain.ChannelID, user domain.UserID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.joined = append(o.joined, user)
}

func (o *recordingObserver) ParticipantLeft(_ domain.ChannelID, user domain.UserID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.left = append(o.left, user)
}

type harness struct {
	reg      *voice.Registry
	engine   *fakeEngine
	tr       *fakeTransport
	clock    *fakeclock.Clock
	observer *recordingObserver
	answered map[domain.UserID]int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		engine:   &fakeEngine{peers: make(map[domain.UserID][]*fakePeer)},
		tr:       &fakeTransport{events: make(map[domain.UserID][]core.Event)},
		clock:    fakeclock.New(),
		observer: &recordingObserver{},
		answered: make(map[domain.UserID]int),
	}
	h.reg = voice.NewRegistry(context.Background(), voice.Options{
		Engine:      h.engine,
		Transport:   h.tr,
		Negotiation: negotiation.Config{AnswerTimeout: negotiation.DefaultAnswerTimeout, MaxRetries: 1},
		Clock:       h.clock,
		Observers:   []core.PresenceObserver{h.observer},
	})
	t.Cleanup(func() { _ = h.reg.Close(context.Background()) })
	return h
}

func (h *harness) join(t *testing.T, ch domain.ChannelID, user domain.UserID) domain.Snapshot {
	t.Helper()
	snap, err := h.reg.Join(context.Background(), ch, user)
	require.NoError(t, err)
	return snap
}

// settle answers every outstanding offer in ch until all connections are stable.
func (h *harness) settle(t *testing.T, ch domain.ChannelID) {
	t.Helper()
	for range 10 {
		progressed := false
		for _, u := range h.tr.users() {
			if loc, ok := h.reg.Locate(u); !ok || loc != ch {
				continue
			}
			n := len(h.tr.of(u, core.EventOffer))
			if n <= h.answered[u] {
				continue
			}
			h.answered[u] = n
			require.NoError(t, h.reg.Answer(context.Background(), ch, u, testAnswer))
			progressed = true
		}
		if !progressed {
			return
		}
	}
	t.Fatal("negotiation did not settle")
}

// reset forgets delivered events; answered counts restart with them.
func (h *harness) reset() {
	h.tr.reset()
	clear(h.answered)
}

// sync waits until every command already posted to ch has been processed.
func (h *harness) sync(t *testing.T, ch domain.ChannelID) {
	t.Helper()
	_, _ = h.reg.Channel(context.Background(), ch)
}

func ptr[T any](v T) *T { return &v }
