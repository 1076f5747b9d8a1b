package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechan/internal/app/sfu"
	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

var errPeerClosed = errors.New("peer connection closed")

type trackKey struct {
	owner domain.UserID
	kind  domain.StreamKind
}

// Peer is the server side of one participant's connection.
type Peer struct {
	pc      *webrtc.PeerConnection
	relays  *sfu.RelayManager
	channel domain.ChannelID
	user    domain.UserID
	hooks   core.PeerHooks
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	// receivers maps each recvonly transceiver to the stream kind it carries.
	receivers map[*webrtc.RTPReceiver]domain.StreamKind

	mu      sync.Mutex
	senders map[trackKey]*webrtc.RTPSender
}

var _ core.PeerConnection = (*Peer)(nil)

func newPeer(ctx context.Context, pc *webrtc.PeerConnection, relays *sfu.RelayManager, channel domain.ChannelID, user domain.UserID, hooks core.PeerHooks) *Peer {
	ctx, cancel := context.WithCancel(ctx)
	return &Peer{
		pc:      pc,
		relays:  relays,
		channel: channel,
		user:    user,
		hooks:   hooks,
		logger: log.With().
			Str("module", "adapters.rtc").
			Str("channel", string(channel)).
			Str("user", string(user)).
			Logger(),
		ctx:       ctx,
		cancel:    cancel,
		receivers: make(map[*webrtc.RTPReceiver]domain.StreamKind, len(domain.StreamKinds)),
		senders:   make(map[trackKey]*webrtc.RTPSender),
	}
}

func (p *Peer) start() error {
	for _, kind := range domain.StreamKinds {
		tr, err := p.pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
		p.receivers[tr.Receiver()] = kind
	}

	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || p.hooks.OnICECandidate == nil {
			return
		}
		ci := cand.ToJSON()
		p.hooks.OnICECandidate(core.ICECandidate{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			p.fail(errors.New("peer connection failed"))
		case webrtc.PeerConnectionStateClosed:
			p.fail(errPeerClosed)
		}
	})

	p.pc.OnTrack(p.onTrack)
	return nil
}

func (p *Peer) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind, ok := p.receivers[receiver]
	if !ok {
		p.logger.Warn().Str("track_id", track.ID()).Msg("track on unknown transceiver")
		return
	}
	ssrc := domain.SSRC(track.SSRC())
	p.logger.Info().
		Str("kind", string(kind)).
		Uint32("ssrc", uint32(ssrc)).
		Str("codec", track.Codec().MimeType).
		Msg("OnTrack received")

	key := sfu.Key{Channel: p.channel, Owner: p.user, Kind: kind}
	var keyframe func()
	if kind.IsVideo() {
		keyframe = func() {
			if err := p.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}}); err != nil {
				p.logger.Debug().Err(err).Msg("keyframe request")
			}
		}
	}
	p.relays.StartRelay(p.ctx, key, track, keyframe)

	if p.hooks.OnRemoteTrack != nil {
		p.hooks.OnRemoteTrack(kind, ssrc)
	}
}

// fail reports the first transport failure. Failures after Close are ours.
func (p *Peer) fail(err error) {
	if p.closed.Load() || p.hooks.OnFailed == nil {
		return
	}
	p.hooks.OnFailed(err)
}

// CreateOffer sets and returns a new local offer. Candidates trickle through OnICECandidate.
func (p *Peer) CreateOffer() (string, error) {
	if p.closed.Load() {
		return "", errPeerClosed
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *Peer) ApplyAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (p *Peer) AddICECandidate(c core.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

// AddTrack starts forwarding ref's stream to this participant on a new sendonly transceiver.
func (p *Peer) AddTrack(ref core.TrackRef) error {
	k := trackKey{owner: ref.Owner, kind: ref.Kind}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.senders[k]; ok {
		return nil
	}

	local, err := webrtc.NewTrackLocalStaticRTP(codecFor(ref.Kind), fmt.Sprintf("%s-%s", ref.Owner, ref.Kind), string(ref.Owner))
	if err != nil {
		return err
	}
	tr, err := p.pc.AddTransceiverFromTrack(local, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly})
	if err != nil {
		return err
	}
	sender := tr.Sender()
	p.senders[k] = sender
	go drainRTCP(sender)

	p.relays.Subscribe(sfu.Key{Channel: p.channel, Owner: ref.Owner, Kind: ref.Kind}, p.user, local)
	p.logger.Debug().Str("owner", string(ref.Owner)).Str("kind", string(ref.Kind)).Msg("forwarding track")
	return nil
}

func (p *Peer) RemoveTrack(ref core.TrackRef) error {
	k := trackKey{owner: ref.Owner, kind: ref.Kind}
	p.mu.Lock()
	defer p.mu.Unlock()
	sender, ok := p.senders[k]
	if !ok {
		return nil
	}
	delete(p.senders, k)
	p.relays.Unsubscribe(sfu.Key{Channel: p.channel, Owner: ref.Owner, Kind: ref.Kind}, p.user)
	return p.pc.RemoveTrack(sender)
}

func (p *Peer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	p.relays.StopOwner(p.channel, p.user)
	p.relays.DropSubscriber(p.channel, p.user)
	if err := p.pc.Close(); err != nil {
		return err
	}
	p.logger.Info().Msg("closed")
	return nil
}

// drainRTCP keeps the sender's interceptors running; the packets themselves are unused.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
