package negotiation

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechan/internal/domain"
)

const (
	DefaultAnswerTimeout = 5 * time.Second
	DefaultMaxRetries    = 1
)

// Driver performs the side effects of negotiation for the owning channel.
// Every method except AnswerTimedOut is called from the channel's serialized
// context.
type Driver interface {
	// PrepareOffer brings the peer's outbound tracks up to date and returns a fresh offer.
	PrepareOffer(user domain.UserID) (string, error)
	SendOffer(user domain.UserID, sdp string)
	ApplyAnswer(user domain.UserID, sdp string) error
	// AnswerTimedOut is called from a timer goroutine. Implementations must
	// hand the call back to the serialized context, which then calls Scheduler.Timeout.
	AnswerTimedOut(user domain.UserID, gen uint64)
	ForceDisconnect(user domain.UserID, cause error)
}

type Config struct {
	AnswerTimeout time.Duration
	MaxRetries    int
}

func (c Config) withDefaults() Config {
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = DefaultAnswerTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

type Scheduler struct {
	cfg    Config
	clock  Clock
	driver Driver
	peers  map[domain.UserID]*Negotiator
	// seq numbers offers across all negotiators so a timeout from a replaced
	// connection never matches its successor.
	seq    uint64
	logger zerolog.Logger
}

func NewScheduler(channel domain.ChannelID, cfg Config, clock Clock, driver Driver) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		clock:  clock,
		driver: driver,
		peers:  make(map[domain.UserID]*Negotiator),
		logger: log.With().Str("module", "app.negotiation").Str("channel", string(channel)).Logger(),
	}
}

// Add registers a connection in Stable. An existing negotiator for the user
// is discarded along with its continuation.
func (s *Scheduler) Add(user domain.UserID) {
	s.Remove(user)
	s.peers[user] = &Negotiator{}
}

// Remove cancels any in-flight negotiation for user.
func (s *Scheduler) Remove(user domain.UserID) {
	if n, ok := s.peers[user]; ok {
		n.stopTimer()
		delete(s.peers, user)
	}
}

func (s *Scheduler) Get(user domain.UserID) (*Negotiator, bool) {
	n, ok := s.peers[user]
	return n, ok
}

// Trigger requests renegotiation for each user once, in the given order.
func (s *Scheduler) Trigger(users ...domain.UserID) {
	seen := make(map[domain.UserID]struct{}, len(users))
	for _, u := range users {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		n, ok := s.peers[u]
		if !ok {
			continue
		}
		if !n.request() {
			s.logger.Debug().Str("user", string(u)).Str("state", n.state.String()).Msg("offer in flight, retrigger recorded")
			continue
		}
		s.offer(u, n)
	}
}

func (s *Scheduler) offer(user domain.UserID, n *Negotiator) {
	sdp, err := s.driver.PrepareOffer(user)
	if err != nil {
		s.logger.Error().Err(err).Str("user", string(user)).Msg("create offer failed")
		n.settle()
		n.retrigger = false
		s.driver.ForceDisconnect(user, fmt.Errorf("%w: %w", domain.ErrTransportFailure, err))
		return
	}
	s.seq++
	n.gen = s.seq
	gen := n.gen
	timer := s.clock.AfterFunc(s.cfg.AnswerTimeout, func() {
		s.driver.AnswerTimedOut(user, gen)
	})
	n.offerSent(timer)
	s.logger.Debug().Str("user", string(user)).Uint64("gen", gen).Msg("offer sent")
	s.driver.SendOffer(user, sdp)
}

// Answer completes the in-flight negotiation. A pending retrigger issues a
// fresh offer immediately.
func (s *Scheduler) Answer(user domain.UserID, sdp string) error {
	n, ok := s.peers[user]
	if !ok {
		return domain.ErrNotInChannel
	}
	if n.state != AnswerAwaited {
		return domain.ErrUnexpectedAnswer
	}
	if err := s.driver.ApplyAnswer(user, sdp); err != nil {
		return err
	}
	n.settle()
	n.retries = 0
	if n.retrigger {
		n.retrigger = false
		if n.request() {
			s.offer(user, n)
		}
	}
	return nil
}

// Timeout handles an expired answer wait. Stale generations are ignored.
func (s *Scheduler) Timeout(user domain.UserID, gen uint64) {
	n, ok := s.peers[user]
	if !ok || n.state != AnswerAwaited || n.gen != gen {
		return
	}
	n.timer = nil
	if n.retries >= s.cfg.MaxRetries {
		s.logger.Warn().Str("user", string(user)).Int("retries", n.retries).Msg("answer timeout, disconnecting")
		n.settle()
		s.driver.ForceDisconnect(user, domain.ErrNegotiationTimeout)
		return
	}
	n.retries++
	s.logger.Warn().Str("user", string(user)).Int("retry", n.retries).Msg("answer timeout, retrying with fresh offer")
	n.state = OfferPending
	s.offer(user, n)
}

// Close stops every continuation.
func (s *Scheduler) Close() {
	for u := range s.peers {
		s.Remove(u)
	}
}
