// Package signal is the WebSocket signaling gateway. It resolves the caller,
// decodes requests, calls the voice registry and pushes events back.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

// UserIDKey is the gin context key the identity middleware stores the caller under.
const UserIDKey = "user_id"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Sessions is the part of the voice registry the gateway drives.
type Sessions interface {
	Join(ctx context.Context, id domain.ChannelID, user domain.UserID) (domain.Snapshot, error)
	Leave(ctx context.Context, id domain.ChannelID, user domain.UserID) error
	Disconnect(ctx context.Context, user domain.UserID) error
	Answer(ctx context.Context, id domain.ChannelID, user domain.UserID, sdp string) error
	AddICECandidate(ctx context.Context, id domain.ChannelID, user domain.UserID, cand core.ICECandidate) error
	Watch(ctx context.Context, id domain.ChannelID, watcher, streamer domain.UserID) error
	Unwatch(ctx context.Context, id domain.ChannelID, watcher, streamer domain.UserID) error
	UpdateVoiceState(ctx context.Context, id domain.ChannelID, user domain.UserID, patch domain.VoiceStatePatch) (domain.VoiceState, error)
	UpdateSpeaking(ctx context.Context, id domain.ChannelID, user domain.UserID, speaking bool) error
	RegisterSsrc(ctx context.Context, id domain.ChannelID, user domain.UserID, kind domain.StreamKind, ssrc domain.SSRC) error
	UnregisterSsrc(ctx context.Context, id domain.ChannelID, user domain.UserID, kind domain.StreamKind) error
	Locate(user domain.UserID) (domain.ChannelID, bool)
}

type Options struct {
	ReadLimit      int64
	PingPeriod     time.Duration
	RequestTimeout time.Duration
	SendBuffer     int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

type SignalWSController struct {
	Sessions Sessions
	Hub      *Hub
	Speaking *SpeakingLimiter
	opts     Options
}

func NewSignalWSController(sessions Sessions, hub *Hub, speaking *SpeakingLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Sessions: sessions,
		Hub:      hub,
		Speaking: speaking,
		opts:     opts.withDefaults(),
	}
}

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// WsSignalConn is one client socket. Writes go through a bounded queue
// drained by the write pump.
type WsSignalConn struct {
	id   string
	conn WSConn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func NewWsSignalConn(conn WSConn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the socket for the user the
// identity middleware resolved.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user := domain.UserID(c.GetString(UserIDKey))
	if err := user.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no identity"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ctl.Serve(ctx, user, ws)
}

// Serve runs the pumps for an established socket until it closes.
func (ctl *SignalWSController) Serve(ctx context.Context, user domain.UserID, ws WSConn) {
	conn := NewWsSignalConn(ws, ctl.opts.SendBuffer)
	log.Info().Str("module", "signal").Str("user", string(user)).Str("conn", conn.id).Msg("new WS connection")

	if prev := ctl.Hub.Attach(user, conn); prev != nil {
		log.Info().Str("module", "signal").Str("user", string(user)).Str("conn", prev.id).Msg("closing replaced connection")
		prev.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, user, conn)
		ctl.disconnected(user, conn)
	}()
}

// disconnected leaves the voice channel only if conn was still the user's
// live socket; a replaced socket leaves its successor alone.
func (ctl *SignalWSController) disconnected(user domain.UserID, conn *WsSignalConn) {
	if !ctl.Hub.Detach(user, conn) {
		return
	}
	ctl.Speaking.Forget(user)
	ctx, cancel := context.WithTimeout(context.Background(), ctl.opts.RequestTimeout)
	defer cancel()
	if err := ctl.Sessions.Disconnect(ctx, user); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("disconnect cleanup")
	}
}
