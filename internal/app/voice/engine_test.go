package voice_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/voicechan/internal/app/negotiation/fakeclock"
	"github.com/dkeye/voicechan/internal/app/voice"
	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/core/mocks"
	"github.com/dkeye/voicechan/internal/domain"
)

func TestJoinFailsWhenEngineRefusesPeer(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockMediaEngine(ctrl)
	transport := mocks.NewMockTransport(ctrl)

	engine.EXPECT().
		NewPeer(gomock.Any(), chanA, p1, gomock.Any()).
		Return(nil, errors.New("no ports"))

	reg := voice.NewRegistry(context.Background(), voice.Options{Engine: engine, Transport: transport, Clock: fakeclock.New()})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	_, err := reg.Join(context.Background(), chanA, p1)
	require.ErrorIs(t, err, domain.ErrTransportFailure)
	require.Equal(t, domain.CodeInternal, domain.CodeOf(err))

	_, ok := reg.Locate(p1)
	require.False(t, ok)
	require.Eventually(t, func() bool {
		_, err := reg.Channel(context.Background(), chanA)
		return errors.Is(err, domain.ErrUnknownChannel)
	}, time.Second, 5*time.Millisecond)
}

func TestRejectedAnswerKeepsWaiting(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockMediaEngine(ctrl)
	peer := mocks.NewMockPeerConnection(ctrl)
	transport := mocks.NewMockTransport(ctrl)

	engine.EXPECT().NewPeer(gomock.Any(), chanA, p1, gomock.Any()).Return(peer, nil)
	peer.EXPECT().CreateOffer().Return("offer-1", nil)
	gomock.InOrder(
		peer.EXPECT().ApplyAnswer(testAnswer).Return(errors.New("m-line mismatch")),
		peer.EXPECT().ApplyAnswer(testAnswer).Return(nil),
	)
	peer.EXPECT().Close().Return(nil)
	transport.EXPECT().Send(p1, core.Event{Name: core.EventOffer, Channel: chanA, Payload: core.OfferPayload{SDP: "offer-1"}})

	reg := voice.NewRegistry(context.Background(), voice.Options{Engine: engine, Transport: transport, Clock: fakeclock.New()})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	_, err := reg.Join(context.Background(), chanA, p1)
	require.NoError(t, err)

	err = reg.Answer(context.Background(), chanA, p1, testAnswer)
	require.ErrorIs(t, err, domain.ErrInvalidSDP)
	require.NoError(t, reg.Answer(context.Background(), chanA, p1, testAnswer))
	require.ErrorIs(t, reg.Answer(context.Background(), chanA, p1, testAnswer), domain.ErrUnexpectedAnswer)
}

func TestMoveFailureLeavesUserOutside(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockMediaEngine(ctrl)
	peer := mocks.NewMockPeerConnection(ctrl)
	transport := mocks.NewMockTransport(ctrl)

	engine.EXPECT().NewPeer(gomock.Any(), chanA, p1, gomock.Any()).Return(peer, nil)
	engine.EXPECT().NewPeer(gomock.Any(), chanB, p1, gomock.Any()).Return(nil, errors.New("no ports"))
	peer.EXPECT().CreateOffer().Return("offer-1", nil)
	peer.EXPECT().Close().Return(nil)
	transport.EXPECT().Send(p1, gomock.Any()).AnyTimes()

	reg := voice.NewRegistry(context.Background(), voice.Options{Engine: engine, Transport: transport, Clock: fakeclock.New()})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	_, err := reg.Join(context.Background(), chanA, p1)
	require.NoError(t, err)

	_, err = reg.MoveUser(context.Background(), p1, chanB)
	require.ErrorIs(t, err, domain.ErrTransportFailure)
	_, ok := reg.Locate(p1)
	require.False(t, ok)
}
