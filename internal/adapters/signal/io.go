package signal

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechan/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump handles requests one at a time, so a client observes results in
// the order it sent the requests.
func (ctl *SignalWSController) readPump(ctx context.Context, user domain.UserID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("user", string(user)).Str("conn", c.id).Msg("readPump closing")
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("readPump read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		ctl.handleSignal(ctx, user, c, data)
	}
}

type envelope struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"requestId,omitempty"`
}

type result struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"requestId"`
	OK        bool            `json:"ok"`
	Error     string          `json:"error,omitempty"`
	Code      domain.Code     `json:"code,omitempty"`
	Data      any             `json:"data,omitempty"`
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, user domain.UserID, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("bad json")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, ctl.opts.RequestTimeout)
	defer cancel()

	var (
		out any
		err error
	)
	switch env.Type {
	case "join":
		out, err = ctl.handleJoin(ctx, user, data)
	case "leave":
		err = ctl.handleLeave(ctx, user, data)
	case "answer":
		err = ctl.handleAnswer(ctx, user, data)
	case "iceCandidate":
		err = ctl.handleCandidate(ctx, user, data)
	case "registerSsrc":
		err = ctl.handleRegisterSsrc(ctx, user, data)
	case "unregisterSsrc":
		err = ctl.handleUnregisterSsrc(ctx, user, data)
	case "watchScreenShare":
		err = ctl.handleWatch(ctx, user, data)
	case "stopWatchingScreenShare":
		err = ctl.handleUnwatch(ctx, user, data)
	case "updateVoiceState":
		out, err = ctl.handleVoiceState(ctx, user, data)
	case "updateSpeakingState":
		err = ctl.handleSpeaking(ctx, user, data)
	case "ping":
		ctl.handlePing(c)
	case "whoami":
		out = ctl.handleWhoAmI(user)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		err = errUnknownType
	}

	if err != nil && !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrStateConflict) {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Str("type", env.Type).Msg("request failed")
	}
	if len(env.RequestID) == 0 {
		return
	}
	ctl.reply(c, env.RequestID, out, err)
}

func (ctl *SignalWSController) reply(c *WsSignalConn, id json.RawMessage, data any, err error) {
	res := result{Type: "result", RequestID: id, OK: err == nil}
	if err == nil {
		res.Data = data
	} else {
		res.Code = domain.CodeOf(err)
		res.Error = err.Error()
		if res.Code == domain.CodeInternal {
			res.Error = "internal error"
		}
	}
	ctl.sendJSON(c, res)
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); errors.Is(err, ErrBackpressure) {
		log.Warn().Str("module", "signal").Str("conn", c.id).Msg("send queue full, closing socket")
		c.Close()
	}
}
