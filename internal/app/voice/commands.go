package voice

import (
	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

type result struct {
	value any
	err   error
}

// command is the closed set of operations a channel actor executes.
// Only types in this package implement it.
type command interface {
	respond(v any, err error)
	wait() <-chan result
}

// request carries the reply slot. Commands posted by timers or the engine
// have no reply slot.
type request struct {
	reply chan result
}

func newRequest() request { return request{reply: make(chan result, 1)} }

func (r request) respond(v any, err error) {
	if r.reply != nil {
		r.reply <- result{value: v, err: err}
	}
}

func (r request) wait() <-chan result { return r.reply }

type joinCmd struct {
	request
	user domain.UserID
}

// leaveCmd removes user. A non-empty conn only matches that connection,
// which keeps late engine or timer signals from removing a successor.
type leaveCmd struct {
	request
	user  domain.UserID
	conn  string
	cause error
}

type answerCmd struct {
	request
	user domain.UserID
	sdp  string
}

type iceCmd struct {
	request
	user      domain.UserID
	candidate core.ICECandidate
}

type watchCmd struct {
	request
	watcher  domain.UserID
	streamer domain.UserID
}

type unwatchCmd struct {
	request
	watcher  domain.UserID
	streamer domain.UserID
}

type voiceStateCmd struct {
	request
	user  domain.UserID
	patch domain.VoiceStatePatch
}

type speakingCmd struct {
	request
	user     domain.UserID
	speaking bool
}

type registerSsrcCmd struct {
	request
	user domain.UserID
	conn string
	kind domain.StreamKind
	ssrc domain.SSRC
}

type unregisterSsrcCmd struct {
	request
	user domain.UserID
	kind domain.StreamKind
}

type serverStateCmd struct {
	request
	user  domain.UserID
	patch domain.ServerStatePatch
}

type timeoutCmd struct {
	request
	user domain.UserID
	gen  uint64
}

type infoCmd struct {
	request
}

type shutdownCmd struct {
	request
}
