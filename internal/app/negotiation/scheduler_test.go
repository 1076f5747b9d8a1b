package negotiation_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicechan/internal/app/negotiation"
	"github.com/dkeye/voicechan/internal/app/negotiation/fakeclock"
	"github.com/dkeye/voicechan/internal/domain"
)

type fakeDriver struct {
	sched        *negotiation.Scheduler
	offers       map[domain.UserID][]string
	answers      map[domain.UserID][]string
	disconnected map[domain.UserID]error
	offerErr     error
	answerErr    error
	n            int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		offers:       make(map[domain.UserID][]string),
		answers:      make(map[domain.UserID][]string),
		disconnected: make(map[domain.UserID]error),
	}
}

func (d *fakeDriver) PrepareOffer(user domain.UserID) (string, error) {
	if d.offerErr != nil {
		return "", d.offerErr
	}
	d.n++
	return "offer-" + string(user) + "-" + string(rune('0'+d.n)), nil
}

func (d *fakeDriver) SendOffer(user domain.UserID, sdp string) {
	d.offers[user] = append(d.offers[user], sdp)
}

func (d *fakeDriver) ApplyAnswer(user domain.UserID, sdp string) error {
	if d.answerErr != nil {
		return d.answerErr
	}
	d.answers[user] = append(d.answers[user], sdp)
	return nil
}

// Timer callbacks run on the test goroutine, which stands in for the channel context.
func (d *fakeDriver) AnswerTimedOut(user domain.UserID, gen uint64) { d.sched.Timeout(user, gen) }

func (d *fakeDriver) ForceDisconnect(user domain.UserID, cause error) {
	d.disconnected[user] = cause
	d.sched.Remove(user)
}

func setup(t *testing.T) (*negotiation.Scheduler, *fakeDriver, *fakeclock.Clock) {
	t.Helper()
	clk := fakeclock.New()
	drv := newFakeDriver()
	s := negotiation.NewScheduler("c1", negotiation.Config{}, clk, drv)
	drv.sched = s
	return s, drv, clk
}

func state(t *testing.T, s *negotiation.Scheduler, u domain.UserID) negotiation.State {
	t.Helper()
	n, ok := s.Get(u)
	require.True(t, ok)
	return n.State()
}

func TestOfferAnswerCycle(t *testing.T) {
	s, drv, clk := setup(t)
	s.Add("p1")
	require.Equal(t, negotiation.Stable, state(t, s, "p1"))

	s.Trigger("p1")
	require.Len(t, drv.offers["p1"], 1)
	require.Equal(t, negotiation.AnswerAwaited, state(t, s, "p1"))
	require.Equal(t, 1, clk.Pending())

	require.NoError(t, s.Answer("p1", "answer"))
	require.Equal(t, negotiation.Stable, state(t, s, "p1"))
	require.Zero(t, clk.Pending())
}

func TestTriggerWhileInFlightCoalesces(t *testing.T) {
	s, drv, _ := setup(t)
	s.Add("p1")

	s.Trigger("p1")
	s.Trigger("p1")
	s.Trigger("p1", "p1")
	require.Len(t, drv.offers["p1"], 1, "never more than one outstanding offer")
	n, _ := s.Get("p1")
	require.True(t, n.Retrigger())

	require.NoError(t, s.Answer("p1", "a1"))
	require.Len(t, drv.offers["p1"], 2, "retrigger issues exactly one fresh offer")
	require.Equal(t, negotiation.AnswerAwaited, state(t, s, "p1"))
	require.False(t, n.Retrigger())

	require.NoError(t, s.Answer("p1", "a2"))
	require.Len(t, drv.offers["p1"], 2)
	require.Equal(t, negotiation.Stable, state(t, s, "p1"))
}

func TestUnexpectedAnswerIsStateConflict(t *testing.T) {
	s, _, _ := setup(t)
	s.Add("p1")

	err := s.Answer("p1", "answer")
	require.ErrorIs(t, err, domain.ErrStateConflict)
	require.Equal(t, negotiation.Stable, state(t, s, "p1"))

	require.ErrorIs(t, s.Answer("ghost", "answer"), domain.ErrValidation)
}

func TestRejectedAnswerKeepsWaiting(t *testing.T) {
	s, drv, clk := setup(t)
	s.Add("p1")
	s.Trigger("p1")

	drv.answerErr = domain.ErrInvalidSDP
	require.ErrorIs(t, s.Answer("p1", "garbage"), domain.ErrValidation)
	require.Equal(t, negotiation.AnswerAwaited, state(t, s, "p1"))
	require.Equal(t, 1, clk.Pending())
}

func TestTimeoutRetriesOnceThenDisconnects(t *testing.T) {
	s, drv, clk := setup(t)
	s.Add("p1")
	s.Trigger("p1")

	require.Equal(t, 1, clk.FireAll())
	require.Len(t, drv.offers["p1"], 2, "first timeout retries with a fresh offer")
	require.NotEqual(t, drv.offers["p1"][0], drv.offers["p1"][1])
	require.Equal(t, negotiation.AnswerAwaited, state(t, s, "p1"))
	require.Empty(t, drv.disconnected)

	require.Equal(t, 1, clk.FireAll())
	require.ErrorIs(t, drv.disconnected["p1"], domain.ErrNegotiationTimeout)
	_, ok := s.Get("p1")
	require.False(t, ok)
	require.Zero(t, clk.Pending())
}

func TestAnswerResetsRetryBudget(t *testing.T) {
	s, drv, clk := setup(t)
	s.Add("p1")
	s.Trigger("p1")
	clk.FireAll()
	require.NoError(t, s.Answer("p1", "late but fine"))

	s.Trigger("p1")
	clk.FireAll()
	require.Empty(t, drv.disconnected, "retry budget is per negotiation")
	require.Len(t, drv.offers["p1"], 4, "second negotiation also gets its retry")
}

func TestStaleTimeoutIgnored(t *testing.T) {
	s, drv, _ := setup(t)
	s.Add("p1")
	s.Trigger("p1")
	n, _ := s.Get("p1")
	old := n.Generation()
	require.NoError(t, s.Answer("p1", "a"))
	s.Trigger("p1")

	s.Timeout("p1", old)
	require.Len(t, drv.offers["p1"], 2)
	require.Empty(t, drv.disconnected)
}

func TestRemoveCancelsContinuation(t *testing.T) {
	s, drv, clk := setup(t)
	s.Add("p1")
	s.Trigger("p1")
	s.Remove("p1")

	require.Zero(t, clk.Pending())
	require.Zero(t, clk.FireAll())
	require.Empty(t, drv.disconnected)
}

func TestOfferFailureDisconnects(t *testing.T) {
	s, drv, clk := setup(t)
	s.Add("p1")
	drv.offerErr = errors.New("pc closed")

	s.Trigger("p1")
	require.ErrorIs(t, drv.disconnected["p1"], domain.ErrTransportFailure)
	require.Zero(t, clk.Pending())
}
