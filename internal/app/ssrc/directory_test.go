package ssrc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicechan/internal/domain"
)

func TestRegisterAndSnapshot(t *testing.T) {
	d := NewDirectory()

	delta, err := d.Register("p1", domain.StreamCameraVideo, 200)
	require.NoError(t, err)
	require.Equal(t, []domain.SsrcMapping{{SSRC: 200, UserID: "p1", StreamKind: domain.StreamCameraVideo}}, delta.Added)
	require.Empty(t, delta.Removed)

	_, err = d.Register("p2", domain.StreamMic, 100)
	require.NoError(t, err)

	snap := d.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, domain.SSRC(100), snap[0].SSRC)
	require.Equal(t, domain.SSRC(200), snap[1].SSRC)
}

func TestRegisterSameMappingIsNoop(t *testing.T) {
	d := NewDirectory()
	_, err := d.Register("p1", domain.StreamMic, 7)
	require.NoError(t, err)

	delta, err := d.Register("p1", domain.StreamMic, 7)
	require.NoError(t, err)
	require.True(t, delta.Empty())
}

func TestRegisterRejectsInvalid(t *testing.T) {
	d := NewDirectory()
	_, err := d.Register("p1", domain.StreamMic, 0)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = d.Register("p1", domain.StreamKind("hologram"), 5)
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Zero(t, d.Len())
}

func TestSSRCOwnedByAnotherUserIsRejected(t *testing.T) {
	d := NewDirectory()
	_, err := d.Register("p1", domain.StreamMic, 42)
	require.NoError(t, err)

	delta, err := d.Register("p2", domain.StreamMic, 42)
	require.ErrorIs(t, err, domain.ErrSsrcInUse)
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Empty(t, delta.Added)
	require.Empty(t, delta.Removed)

	m, ok := d.Lookup(42)
	require.True(t, ok)
	require.Equal(t, domain.UserID("p1"), m.UserID)
	_, ok = d.SSRCOf("p2", domain.StreamMic)
	require.False(t, ok)
	require.Equal(t, 1, d.Len())
}

func TestOwnerMovesSSRCToAnotherKind(t *testing.T) {
	d := NewDirectory()
	_, err := d.Register("p1", domain.StreamMic, 42)
	require.NoError(t, err)

	delta, err := d.Register("p1", domain.StreamCameraVideo, 42)
	require.NoError(t, err)
	require.Equal(t, []domain.SsrcMapping{{SSRC: 42, UserID: "p1", StreamKind: domain.StreamMic}}, delta.Removed)
	require.Equal(t, []domain.SsrcMapping{{SSRC: 42, UserID: "p1", StreamKind: domain.StreamCameraVideo}}, delta.Added)
	_, ok := d.SSRCOf("p1", domain.StreamMic)
	require.False(t, ok)
	require.Equal(t, 1, d.Len())
}

func TestReplaceOwnSSRCForKind(t *testing.T) {
	d := NewDirectory()
	_, err := d.Register("p1", domain.StreamScreenVideo, 10)
	require.NoError(t, err)

	delta, err := d.Register("p1", domain.StreamScreenVideo, 11)
	require.NoError(t, err)
	require.Len(t, delta.Removed, 1)
	require.Equal(t, domain.SSRC(10), delta.Removed[0].SSRC)

	_, ok := d.Lookup(10)
	require.False(t, ok)
	s, ok := d.SSRCOf("p1", domain.StreamScreenVideo)
	require.True(t, ok)
	require.Equal(t, domain.SSRC(11), s)
}

func TestUnregister(t *testing.T) {
	d := NewDirectory()
	_, _ = d.Register("p1", domain.StreamMic, 1)
	_, _ = d.Register("p1", domain.StreamCameraVideo, 2)
	_, _ = d.Register("p2", domain.StreamMic, 3)

	delta, ok := d.Unregister("p1", domain.StreamCameraVideo)
	require.True(t, ok)
	require.Equal(t, domain.SSRC(2), delta.Removed[0].SSRC)

	_, ok = d.Unregister("p1", domain.StreamCameraVideo)
	require.False(t, ok)

	delta = d.UnregisterAllForUser("p1")
	require.Equal(t, []domain.SsrcMapping{{SSRC: 1, UserID: "p1", StreamKind: domain.StreamMic}}, delta.Removed)

	for _, m := range d.Snapshot() {
		require.NotEqual(t, domain.UserID("p1"), m.UserID)
	}
	require.True(t, d.UnregisterAllForUser("nobody").Empty())
}
