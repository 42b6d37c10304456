package httpapi

import (
	"net/http"

	"apextrade-backend/services/ledger"
	"apextrade-backend/services/user"

	"github.com/gin-gonic/gin"
)

func (h *Handler) RegisterUser(c *gin.Context) {
	var req user.RegisterRequest
	if !bind(c, &req) {
		return
	}
	u, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	_ = h.users.Touch(c.Request.Context(), u.ID)
	c.JSON(http.StatusOK, u)
}

func (h *Handler) CreateInvestment(c *gin.Context) {
	var req ledger.CreateIntentRequest
	if !bind(c, &req) {
		return
	}
	inv, err := h.ledger.CreateIntent(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvestment(c *gin.Context) {
	inv, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

type balanceResponse struct {
	Investment *ledger.Investment `json:"investment"`
	State      ledger.State       `json:"state"`
}

func (h *Handler) Balance(c *gin.Context) {
	inv, state, err := h.ledger.Balance(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{Investment: inv, State: state})
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) ActivateInvestment(c *gin.Context) {
	var req codeRequest
	if !bind(c, &req) {
		return
	}
	inv, err := h.ledger.Activate(c.Request.Context(), c.Param("id"), req.Code)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvestments(c *gin.Context) {
	out, err := h.ledger.List(c.Request.Context(), ledger.ListFilter{
		UserID: c.Query("user_id"),
		Status: ledger.Status(c.Query("status")),
		Limit:  queryInt(c, "limit"),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"investments": out})
}

type confirmResponse struct {
	Investment *ledger.Investment `json:"investment"`
	Code       string             `json:"code"`
}

func (h *Handler) ConfirmInvestment(c *gin.Context) {
	inv, code, err := h.ledger.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, confirmResponse{Investment: inv, Code: code})
}

func (h *Handler) AdjustInvestment(c *gin.Context) {
	var req ledger.Adjustment
	if !bind(c, &req) {
		return
	}
	inv, err := h.ledger.AdminAdjust(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

type assignRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// SetInvestmentStatus handles pause, resume, cancel and assign.
func (h *Handler) SetInvestmentStatus(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		inv *ledger.Investment
		err error
	)
	if c.Param("action") == "assign" {
		var req assignRequest
		if !bind(c, &req) {
			return
		}
		inv, err = h.ledger.AssignOwner(ctx, c.Param("id"), req.UserID)
	} else {
		inv, err = h.ledger.SetStatus(ctx, c.Param("id"), c.Param("action"))
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, inv)
}
