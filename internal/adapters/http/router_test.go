package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	router "github.com/dkeye/voicechan/internal/adapters/http"
	"github.com/dkeye/voicechan/internal/adapters/signal"
	"github.com/dkeye/voicechan/internal/app/voice"
	"github.com/dkeye/voicechan/internal/config"
	"github.com/dkeye/voicechan/internal/domain"
)

const adminToken = "s3cret"

func newServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := signal.NewHub()
	reg := voice.NewRegistry(context.Background(), voice.Options{Transport: hub})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	ctl := signal.NewSignalWSController(reg, hub, signal.NewSpeakingLimiter(10, 20), signal.Options{})
	cfg := &config.Config{Mode: "test", Secret: "test-secret", AdminToken: adminToken}
	return router.SetupRouter(context.Background(), cfg, ctl, reg)
}

func do(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := do(newServer(t), http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAdminRequiresToken(t *testing.T) {
	r := newServer(t)
	require.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/channels", "", "").Code)
	require.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/channels", "wrong", "").Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/channels", adminToken, "").Code)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	r := gin.New()
	r.GET("/x", router.AdminAuth(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	require.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/x", "anything", "").Code)
}

func TestAdminErrorsMapToStatus(t *testing.T) {
	r := newServer(t)

	w := do(r, http.MethodGet, "/api/channels", adminToken, "")
	require.JSONEq(t, `{"channels":[]}`, w.Body.String())

	w = do(r, http.MethodGet, "/api/channels/nowhere", adminToken, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodDelete, "/api/admin/users/ghost", adminToken, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/admin/users/ghost/move", adminToken, `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/admin/users/ghost/server-state", adminToken, `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Code domain.Code `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, domain.CodeValidation, body.Code)

	w = do(r, http.MethodPost, "/api/admin/users/ghost/server-state", adminToken, `{"serverMuted":true}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestIdentityFromHeaderOrSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sessions.Sessions("VoiceSessions", cookie.NewStore([]byte("k"))))
	r.GET("/me", router.IdentityMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(signal.UserIDKey))
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User-Id", "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "alice", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	guest := w.Body.String()
	require.True(t, strings.HasPrefix(guest, "guest-"))
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, guest, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User-Id", strings.Repeat("x", domain.MaxUserIDLen+1))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignalSocketRoundTrip(t *testing.T) {
	srv := httptest.NewServer(newServer(t))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-Id": []string{"alice"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = resp.Body.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"whoami","requestId":"1"}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"result","requestId":"1","ok":true,"data":{"userId":"alice"}}`, string(data))
}
