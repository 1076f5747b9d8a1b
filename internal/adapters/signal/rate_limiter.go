package signal

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/dkeye/voicechan/internal/domain"
)

// SpeakingLimiter throttles speaking-state updates per user.
type SpeakingLimiter struct {
	mu       sync.Mutex
	limiters map[domain.UserID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewSpeakingLimiter(perSecond float64, burst int) *SpeakingLimiter {
	return &SpeakingLimiter{
		limiters: make(map[domain.UserID]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (sl *SpeakingLimiter) Allow(uid domain.UserID) bool {
	sl.mu.Lock()
	l, ok := sl.limiters[uid]
	if !ok {
		l = rate.NewLimiter(sl.limit, sl.burst)
		sl.limiters[uid] = l
	}
	sl.mu.Unlock()
	return l.Allow()
}

// Forget drops the user's bucket once its socket is gone.
func (sl *SpeakingLimiter) Forget(uid domain.UserID) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	delete(sl.limiters, uid)
}
