// Package subs tracks which watcher receives which streamer's screen share
// within one channel. Access is serialized by the owning channel.
package subs

import (
	"slices"

	"github.com/dkeye/voicechan/internal/domain"
)

type set map[domain.UserID]struct{}

type Table struct {
	channel    domain.ChannelID
	byStreamer map[domain.UserID]set
	byWatcher  map[domain.UserID]set
}

func NewTable(channel domain.ChannelID) *Table {
	return &Table{
		channel:    channel,
		byStreamer: make(map[domain.UserID]set),
		byWatcher:  make(map[domain.UserID]set),
	}
}

// Add reports false if the subscription already existed.
func (t *Table) Add(watcher, streamer domain.UserID) bool {
	if t.Has(watcher, streamer) {
		return false
	}
	link(t.byStreamer, streamer, watcher)
	link(t.byWatcher, watcher, streamer)
	return true
}

func (t *Table) Remove(watcher, streamer domain.UserID) bool {
	if !t.Has(watcher, streamer) {
		return false
	}
	unlink(t.byStreamer, streamer, watcher)
	unlink(t.byWatcher, watcher, streamer)
	return true
}

func (t *Table) Has(watcher, streamer domain.UserID) bool {
	_, ok := t.byStreamer[streamer][watcher]
	return ok
}

// RemoveStreamer drops every subscription targeting streamer and returns the
// affected watchers, sorted.
func (t *Table) RemoveStreamer(streamer domain.UserID) []domain.UserID {
	watchers := keys(t.byStreamer[streamer])
	for _, w := range watchers {
		unlink(t.byWatcher, w, streamer)
	}
	delete(t.byStreamer, streamer)
	return watchers
}

// RemoveWatcher drops every subscription held by watcher and returns the
// streamers it was watching, sorted.
func (t *Table) RemoveWatcher(watcher domain.UserID) []domain.UserID {
	streamers := keys(t.byWatcher[watcher])
	for _, s := range streamers {
		unlink(t.byStreamer, s, watcher)
	}
	delete(t.byWatcher, watcher)
	return streamers
}

func (t *Table) Watchers(streamer domain.UserID) []domain.UserID { return keys(t.byStreamer[streamer]) }
func (t *Table) Watching(watcher domain.UserID) []domain.UserID  { return keys(t.byWatcher[watcher]) }

func (t *Table) Len() int {
	n := 0
	for _, w := range t.byStreamer {
		n += len(w)
	}
	return n
}

func (t *Table) Snapshot() []domain.Subscription {
	out := make([]domain.Subscription, 0, t.Len())
	for _, streamer := range keys2(t.byStreamer) {
		for _, watcher := range keys(t.byStreamer[streamer]) {
			out = append(out, domain.Subscription{WatcherID: watcher, StreamerID: streamer, ChannelID: t.channel})
		}
	}
	return out
}

func link(m map[domain.UserID]set, a, b domain.UserID) {
	s, ok := m[a]
	if !ok {
		s = make(set)
		m[a] = s
	}
	s[b] = struct{}{}
}

func unlink(m map[domain.UserID]set, a, b domain.UserID) {
	s, ok := m[a]
	if !ok {
		return
	}
	delete(s, b)
	if len(s) == 0 {
		delete(m, a)
	}
}

func keys(s set) []domain.UserID {
	out := make([]domain.UserID, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func keys2(m map[domain.UserID]set) []domain.UserID {
	out := make([]domain.UserID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
