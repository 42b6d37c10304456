package httpapi

import (
	"net/http"

	"apextrade-backend/services/system"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListEvents(c *gin.Context) {
	out, err := h.audit.List(c.Request.Context(), queryInt(c, "limit"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (h *Handler) GetSystem(c *gin.Context) {
	s, err := h.system.Get(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) UpdateSystem(c *gin.Context) {
	var patch system.SettingsPatch
	if !bind(c, &patch) {
		return
	}
	s, err := h.system.Update(c.Request.Context(), patch)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type broadcastRequest struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
	Body   string `json:"body"`
}

func (h *Handler) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if !bind(c, &req) {
		return
	}
	n, err := h.notifications.Broadcast(c.Request.Context(), req.UserID, req.Type, req.Body)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (h *Handler) ListNotifications(c *gin.Context) {
	out, err := h.notifications.ListForUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}
