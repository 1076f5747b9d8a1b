package presence_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicechan/internal/adapters/presence"
	"github.com/dkeye/voicechan/internal/domain"
)

type memStore struct {
	mu       sync.Mutex
	resets   int
	channels map[domain.ChannelID][]domain.UserID
}

func (s *memStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	clear(s.channels)
	return nil
}

func (s *memStore) Joined(_ context.Context, ch domain.ChannelID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch] = append(s.channels[ch], user)
	return nil
}

func (s *memStore) Left(_ context.Context, ch domain.ChannelID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch] = slices.DeleteFunc(s.channels[ch], func(u domain.UserID) bool { return u == user })
	return nil
}

func (s *memStore) Members(_ context.Context, ch domain.ChannelID) ([]domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.channels[ch]), nil
}

func TestObserverMirrorsMembership(t *testing.T) {
	store := &memStore{channels: make(map[domain.ChannelID][]domain.UserID)}
	obs := presence.NewObserver(store, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- obs.Run(ctx) }()

	obs.ParticipantJoined("general", "alice")
	obs.ParticipantJoined("general", "bob")
	obs.ParticipantLeft("general", "alice")

	require.Eventually(t, func() bool {
		m, _ := store.Members(context.Background(), "general")
		return slices.Equal(m, []domain.UserID{"bob"})
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, 1, store.resets)
}

func TestObserverNeverBlocks(t *testing.T) {
	store := &memStore{channels: make(map[domain.ChannelID][]domain.UserID)}
	obs := presence.NewObserver(store, 1)

	for range 10 {
		obs.ParticipantJoined("general", "alice")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = obs.Run(ctx) }()
	require.Eventually(t, func() bool {
		m, _ := store.Members(context.Background(), "general")
		return len(m) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
}
