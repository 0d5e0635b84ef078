package chat

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gita-chat/backend/pkg/utils"
)

// SessionStore 会话状态存储
type SessionStore interface {
	DeleteSession(ctx context.Context, sessionID string) bool
}

// Handler 会话管理的HTTP处理器
type Handler struct {
	sessions SessionStore
}

// New 创建会话处理器
func New(sessions SessionStore) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Delete("/chat", h.handleClearSession)
}

type clearResponse struct {
	Success bool `json:"success"`
}

// handleClearSession 清除会话状态。未知或缺失的 sessionId 同样返回成功。
func (h *Handler) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID != "" && h.sessions != nil {
		removed := h.sessions.DeleteSession(r.Context(), sessionID)
		log.Debug().Str("session", sessionID).Bool("removed", removed).Msg("session cleared")
	}

	utils.RespondJSON(w, http.StatusOK, clearResponse{Success: true})
}
