package httptransport

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatvoice/internal/app/services"
	"chatvoice/internal/domain/chat"
	"chatvoice/internal/domain/playback"
	"chatvoice/internal/platform/logging"
)

// PlaybackAPI is the service behind the playback routes.
type PlaybackAPI interface {
	SwitchConversation(ctx context.Context, sessionID string, messages []chat.Message)
	AppendMessage(ctx context.Context, msg chat.Message) error
	Toggle(ctx context.Context, messageID string) error
	PlayAll(ctx context.Context) playback.Snapshot
	StopAll()
	Stop()
	View(ctx context.Context) services.PlaybackView
	ClearCache(ctx context.Context) error
	SweepCache(ctx context.Context) (int, error)
	CacheStats(ctx context.Context) (map[string]any, error)
}

// PlaybackHandler exposes playback control over HTTP.
type PlaybackHandler struct {
	svc    PlaybackAPI
	logger *logging.Logger
}

func NewPlaybackHandler(svc PlaybackAPI, logger *logging.Logger) *PlaybackHandler {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &PlaybackHandler{svc: svc, logger: logger}
}

// Register mounts the routes on the API group.
func (h *PlaybackHandler) Register(api *gin.RouterGroup) {
	api.GET("/playback", h.handleView)
	api.POST("/playback/messages/:id", h.handleToggle)
	api.POST("/playback/all", h.handlePlayAll)
	api.POST("/playback/stop", h.handleStop)

	api.POST("/conversation", h.handleConversation)
	api.POST("/conversation/messages", h.handleAppend)

	api.GET("/cache", h.handleCacheStats)
	api.DELETE("/cache", h.handleCacheClear)
	api.POST("/cache/sweep", h.handleCacheSweep)
}

type conversationRequest struct {
	SessionID string         `json:"sessionId" binding:"required"`
	Messages  []chat.Message `json:"messages"`
}

func (h *PlaybackHandler) handleView(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, h.svc.View(c.Request.Context()), "")
}

func (h *PlaybackHandler) handleToggle(c *gin.Context) {
	if err := h.svc.Toggle(c.Request.Context(), c.Param("id")); err != nil {
		RespondFailure(c, err, gin.H{"id": c.Param("id")})
		return
	}
	RespondSuccess(c, http.StatusAccepted, h.svc.View(c.Request.Context()).Playback, "toggled")
}

func (h *PlaybackHandler) handlePlayAll(c *gin.Context) {
	snap := h.svc.PlayAll(c.Request.Context())
	if snap.Mode != playback.ModeGlobal {
		RespondSuccess(c, http.StatusOK, snap, "nothing to play")
		return
	}
	RespondSuccess(c, http.StatusAccepted, snap, "playing all")
}

// handleStop stops play-all with ?scope=all, otherwise everything.
func (h *PlaybackHandler) handleStop(c *gin.Context) {
	if c.Query("scope") == "all" {
		h.svc.StopAll()
	} else {
		h.svc.Stop()
	}
	RespondSuccess(c, http.StatusOK, h.svc.View(c.Request.Context()).Playback, "stopped")
}

func (h *PlaybackHandler) handleConversation(c *gin.Context) {
	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid conversation: "+err.Error(), nil)
		return
	}
	h.svc.SwitchConversation(c.Request.Context(), req.SessionID, req.Messages)
	RespondSuccess(c, http.StatusOK, h.svc.View(c.Request.Context()), "conversation loaded")
}

func (h *PlaybackHandler) handleAppend(c *gin.Context) {
	var msg chat.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid message: "+err.Error(), nil)
		return
	}
	if err := h.svc.AppendMessage(c.Request.Context(), msg); err != nil {
		RespondFailure(c, err, nil)
		return
	}
	RespondSuccess(c, http.StatusOK, msg, "message stored")
}

func (h *PlaybackHandler) handleCacheStats(c *gin.Context) {
	stats, err := h.svc.CacheStats(c.Request.Context())
	if err != nil {
		h.logger.WarnTag("HTTP", "cache stats: %v", err)
		RespondFailure(c, err, nil)
		return
	}
	RespondSuccess(c, http.StatusOK, stats, "")
}

func (h *PlaybackHandler) handleCacheClear(c *gin.Context) {
	if err := h.svc.ClearCache(c.Request.Context()); err != nil {
		h.logger.WarnTag("HTTP", "cache clear: %v", err)
		RespondFailure(c, err, nil)
		return
	}
	RespondSuccess(c, http.StatusOK, nil, "cache cleared")
}

func (h *PlaybackHandler) handleCacheSweep(c *gin.Context) {
	removed, err := h.svc.SweepCache(c.Request.Context())
	if err != nil {
		h.logger.WarnTag("HTTP", "cache sweep: %v", err)
		RespondFailure(c, err, nil)
		return
	}
	RespondSuccess(c, http.StatusOK, gin.H{"removed": removed}, "")
}
