package http

import (
	"net/http"

	"github.com/dkeye/CallRelay/internal/adapters/auth"
	"github.com/dkeye/CallRelay/internal/app"
	"github.com/dkeye/CallRelay/internal/app/orch"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	orch         *orch.Orchestrator
	authRequired bool
	iceServers   []webrtc.ICEServer
}

type historyQuery struct {
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
	UserID string `form:"user_id" binding:"omitempty,max=64"`
}

type historyResponse struct {
	UserID domain.UserID       `json:"userId"`
	Calls  []domain.CallRecord `json:"calls"`
}

func (h handlers) history(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}

	uid, ok := auth.Identity(c)
	if !ok {
		if h.authRequired || q.UserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
			return
		}
		uid = domain.UserID(q.UserID)
	}
	if q.Limit == 0 {
		q.Limit = app.DefaultHistoryLimit
	}

	calls, err := h.orch.Ledger.History(c.Request.Context(), uid, q.Limit)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("user", string(uid)).Msg("call history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, historyResponse{UserID: uid, Calls: calls})
}

func (h handlers) iceServersList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": h.iceServers})
}

func (h handlers) online(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.orch.Roster()})
}
