package httpapi

import (
	"net/http"

	"apextrade-backend/pkg/errutil"
	"apextrade-backend/services/withdrawal"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const proofField = "file"

type withdrawalRequest struct {
	InvestmentID string `json:"investment_id" binding:"required"`
}

func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req withdrawalRequest
	if !bind(c, &req) {
		return
	}
	w, err := h.withdrawals.Request(c.Request.Context(), req.InvestmentID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) GetWithdrawal(c *gin.Context) {
	w, err := h.withdrawals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWithdrawals(c *gin.Context) {
	out, err := h.withdrawals.List(c.Request.Context(), withdrawal.ListFilter{
		UserID: c.Query("user_id"),
		Status: withdrawal.Status(c.Query("status")),
		Limit:  queryInt(c, "limit"),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": out})
}

// proofUpload reads the multipart file. The caller closes the returned func.
func proofUpload(c *gin.Context) (withdrawal.ProofUpload, func(), bool) {
	fh, err := c.FormFile(proofField)
	if err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid upload", err, errutil.Field(proofField, "required")))
		return withdrawal.ProofUpload{}, nil, false
	}
	f, err := fh.Open()
	if err != nil {
		_ = c.Error(errutil.BadRequest("failed to read upload", err))
		return withdrawal.ProofUpload{}, nil, false
	}
	return withdrawal.ProofUpload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	}, func() { _ = f.Close() }, true
}

func (h *Handler) SubmitFeeProof(c *gin.Context) {
	up, closeFn, ok := proofUpload(c)
	if !ok {
		return
	}
	defer closeFn()

	out, err := h.withdrawals.SubmitProof(c.Request.Context(), c.Param("id"), up)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) SubmitInvestmentProof(c *gin.Context) {
	up, closeFn, ok := proofUpload(c)
	if !ok {
		return
	}
	defer closeFn()

	out, err := h.withdrawals.SubmitInvestmentProof(c.Request.Context(), c.Param("id"), up)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) VerifyFeeOtp(c *gin.Context) {
	var req codeRequest
	if !bind(c, &req) {
		return
	}
	w, err := h.withdrawals.VerifyFeeOtp(c.Request.Context(), c.Param("id"), req.Code)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type feeRequest struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) AttachFee(c *gin.Context) {
	var req feeRequest
	if !bind(c, &req) {
		return
	}
	fee, err := h.withdrawals.AttachFee(c.Request.Context(), c.Param("id"), req.Label, req.Amount)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, fee)
}

func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	w, err := h.withdrawals.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) MarkPaid(c *gin.Context) {
	w, err := h.withdrawals.MarkPaid(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type noteRequest struct {
	Note string `json:"note"`
}

func (h *Handler) RejectWithdrawal(c *gin.Context) {
	var req noteRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	w, err := h.withdrawals.Reject(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) ResendFeeOtp(c *gin.Context) {
	code, err := h.withdrawals.ResendFeeOtp(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code})
}

func (h *Handler) ListUploads(c *gin.Context) {
	out, err := h.withdrawals.ListUploads(c.Request.Context(), withdrawal.ProofStatus(c.Query("status")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploads": out})
}

type reviewRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

func (h *Handler) ReviewProof(c *gin.Context) {
	var req reviewRequest
	if !bind(c, &req) {
		return
	}
	out, err := h.withdrawals.ReviewProof(c.Request.Context(), c.Param("id"), req.Approve, req.Note)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}
