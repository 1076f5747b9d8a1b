// Package rtc is the pion-backed media engine. The server offers one peer
// connection per participant, receives that participant's streams on
// recvonly transceivers and forwards other participants' streams through
// the sfu relays.
package rtc

import (
	"context"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechan/internal/app/sfu"
	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

type Config struct {
	ICEServers []string
	UDPPortMin uint16
	UDPPortMax uint16
	// NAT1To1IPs are advertised as host candidates when the server runs behind NAT.
	NAT1To1IPs []string
}

func (c Config) webrtcConfig() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(c.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return cfg
}

// Engine implements core.MediaEngine.
type Engine struct {
	api    *webrtc.API
	cfg    webrtc.Configuration
	relays *sfu.RelayManager
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine(cfg Config, relays *sfu.RelayManager) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create PLI interceptor: %w", err)
	}
	ir.Add(pli)

	se := webrtc.SettingEngine{}
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax >= cfg.UDPPortMin {
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}
	if len(cfg.NAT1To1IPs) > 0 {
		se.SetNAT1To1IPs(cfg.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	log.Info().Str("module", "adapters.rtc").
		Strs("ice_servers", cfg.ICEServers).
		Uint16("udp_min", cfg.UDPPortMin).
		Uint16("udp_max", cfg.UDPPortMax).
		Msg("media engine ready")

	return &Engine{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir), webrtc.WithSettingEngine(se)),
		cfg:    cfg.webrtcConfig(),
		relays: relays,
	}, nil
}

func (e *Engine) NewPeer(ctx context.Context, channel domain.ChannelID, user domain.UserID, hooks core.PeerHooks) (core.PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(e.cfg)
	if err != nil {
		return nil, err
	}
	p := newPeer(ctx, pc, e.relays, channel, user, hooks)
	if err := p.start(); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return p, nil
}

// codecFor is the forwarded codec of a stream kind. It must match what
// RegisterDefaultCodecs offers to publishers.
func codecFor(kind domain.StreamKind) webrtc.RTPCodecCapability {
	if kind.IsVideo() {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func codecType(kind domain.StreamKind) webrtc.RTPCodecType {
	if kind.IsVideo() {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}
