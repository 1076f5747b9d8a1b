package rtc_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicechan/internal/adapters/rtc"
	"github.com/dkeye/voicechan/internal/app/sfu"
	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

func mediaSections(t *testing.T, raw string) int {
	t.Helper()
	var desc sdp.SessionDescription
	require.NoError(t, desc.Unmarshal([]byte(raw)))
	return len(desc.MediaDescriptions)
}

// answerFor plays the browser side of one negotiation round.
func answerFor(t *testing.T, client *webrtc.PeerConnection, offer string) string {
	t.Helper()
	require.NoError(t, client.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}))
	answer, err := client.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, client.SetLocalDescription(answer))
	return answer.SDP
}

func TestPeerNegotiatesAndForwards(t *testing.T) {
	relays := sfu.NewRelayManager()
	engine, err := rtc.NewEngine(rtc.Config{}, relays)
	require.NoError(t, err)

	var failures atomic.Int32
	peer, err := engine.NewPeer(context.Background(), "room", "bob", core.PeerHooks{
		OnFailed: func(error) { failures.Add(1) },
	})
	require.NoError(t, err)

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	offer, err := peer.CreateOffer()
	require.NoError(t, err)
	require.Equal(t, len(domain.StreamKinds), mediaSections(t, offer), "one recvonly section per stream kind")
	require.NoError(t, peer.ApplyAnswer(answerFor(t, client, offer)))

	ref := core.TrackRef{Owner: "alice", Kind: domain.StreamMic, SSRC: 1234}
	key := sfu.Key{Channel: "room", Owner: "alice", Kind: domain.StreamMic}
	require.NoError(t, peer.AddTrack(ref))
	require.NoError(t, peer.AddTrack(ref), "adding twice is a no-op")
	require.Equal(t, []domain.UserID{"bob"}, relays.Subscribers(key))

	offer, err = peer.CreateOffer()
	require.NoError(t, err)
	require.Equal(t, len(domain.StreamKinds)+1, mediaSections(t, offer))
	require.NoError(t, peer.ApplyAnswer(answerFor(t, client, offer)))

	require.NoError(t, peer.RemoveTrack(ref))
	require.Empty(t, relays.Subscribers(key))
	require.NoError(t, peer.RemoveTrack(ref))

	require.NoError(t, peer.Close())
	require.NoError(t, peer.Close())
	_, err = peer.CreateOffer()
	require.Error(t, err)
	require.Zero(t, failures.Load(), "closing our own peer is not a transport failure")
	require.Zero(t, relays.Len())
}

func TestPeerRejectsGarbageAnswer(t *testing.T) {
	engine, err := rtc.NewEngine(rtc.Config{ICEServers: []string{"stun:stun.l.google.com:19302"}}, sfu.NewRelayManager())
	require.NoError(t, err)
	peer, err := engine.NewPeer(context.Background(), "room", "bob", core.PeerHooks{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })

	_, err = peer.CreateOffer()
	require.NoError(t, err)
	require.Error(t, peer.ApplyAnswer("v=0\r\n"))
}
