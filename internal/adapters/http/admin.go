package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechan/internal/domain"
)

// Admin is the part of the voice registry exposed to operators.
type Admin interface {
	Channels(ctx context.Context) ([]domain.ChannelInfo, error)
	Channel(ctx context.Context, id domain.ChannelID) (domain.ChannelInfo, error)
	SetServerVoiceState(ctx context.Context, user domain.UserID, patch domain.ServerStatePatch) (domain.VoiceState, error)
	MoveUser(ctx context.Context, user domain.UserID, target domain.ChannelID) (domain.Snapshot, error)
	Kick(ctx context.Context, user domain.UserID) error
}

type MoveRequest struct {
	ChannelID domain.ChannelID `json:"channelId"`
}

// AdminAuth checks the bearer token. An empty token disables the admin API.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin api disabled"})
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

type adminHandlers struct {
	admin Admin
}

func (h *adminHandlers) listChannels(c *gin.Context) {
	chans, err := h.admin.Channels(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": chans})
}

func (h *adminHandlers) getChannel(c *gin.Context) {
	info, err := h.admin.Channel(c.Request.Context(), domain.ChannelID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *adminHandlers) setServerState(c *gin.Context) {
	var patch domain.ServerStatePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body", "code": domain.CodeValidation})
		return
	}
	user := domain.UserID(c.Param("id"))
	st, err := h.admin.SetServerVoiceState(c.Request.Context(), user, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("user", string(user)).Msg("admin server state")
	c.JSON(http.StatusOK, gin.H{"userId": user, "voiceState": st})
}

func (h *adminHandlers) moveUser(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ChannelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid channelId", "code": domain.CodeValidation})
		return
	}
	user := domain.UserID(c.Param("id"))
	snap, err := h.admin.MoveUser(c.Request.Context(), user, req.ChannelID)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("user", string(user)).Str("to", string(req.ChannelID)).Msg("admin move")
	c.JSON(http.StatusOK, snap)
}

func (h *adminHandlers) kickUser(c *gin.Context) {
	user := domain.UserID(c.Param("id"))
	if err := h.admin.Kick(c.Request.Context(), user); err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("user", string(user)).Msg("admin kick")
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	status := statusOf(err)
	msg := err.Error()
	if code == domain.CodeInternal {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("admin request failed")
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg, "code": code})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownChannel), errors.Is(err, domain.ErrNotInChannel):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
