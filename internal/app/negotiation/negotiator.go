// Package negotiation implements the per-participant offer/answer state
// machine and the scheduler that coalesces renegotiation triggers so that at
// most one offer is outstanding per connection.
package negotiation

type State int

const (
	Stable State = iota
	OfferPending
	AnswerAwaited
)

func (s State) String() string {
	switch s {
	case Stable:
		return "stable"
	case OfferPending:
		return "offer_pending"
	case AnswerAwaited:
		return "answer_awaited"
	}
	return "unknown"
}

// Negotiator is the state of one participant connection. It is driven only
// by the Scheduler.
type Negotiator struct {
	state     State
	retrigger bool
	retries   int
	gen       uint64
	timer     Timer
	offers    int
}

func (n *Negotiator) State() State { return n.state }

// Retrigger reports whether a trigger arrived while an offer was in flight.
func (n *Negotiator) Retrigger() bool { return n.retrigger }

// Generation identifies the offer currently awaiting an answer.
func (n *Negotiator) Generation() uint64 { return n.gen }

// Offers counts offers issued over the connection's lifetime.
func (n *Negotiator) Offers() int { return n.offers }

// request moves Stable to OfferPending. Any other state only records the
// trigger, and the caller must not issue an offer.
func (n *Negotiator) request() bool {
	if n.state != Stable {
		n.retrigger = true
		return false
	}
	n.state = OfferPending
	return true
}

func (n *Negotiator) offerSent(timer Timer) {
	n.state = AnswerAwaited
	n.timer = timer
	n.offers++
}

func (n *Negotiator) settle() {
	n.stopTimer()
	n.state = Stable
}

func (n *Negotiator) stopTimer() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
