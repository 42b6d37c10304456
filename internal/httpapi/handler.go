package httpapi

import (
	"context"
	"strconv"

	"apextrade-backend/pkg/errutil"
	"apextrade-backend/pkg/middleware"
	"apextrade-backend/services/audit"
	"apextrade-backend/services/ledger"
	"apextrade-backend/services/notification"
	"apextrade-backend/services/system"
	"apextrade-backend/services/user"
	"apextrade-backend/services/withdrawal"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi.routes",
	fx.Provide(
		NewHandler,
		middleware.NewEnforcer,
	),
	fx.Invoke(Register),
)

type Handler struct {
	users         *user.Service
	ledger        *ledger.Service
	withdrawals   *withdrawal.Service
	audit         *audit.Service
	hub           *audit.Hub
	system        *system.Service
	notifications *notification.Service
}

type Params struct {
	fx.In
	Users         *user.Service
	Ledger        *ledger.Service
	Withdrawals   *withdrawal.Service
	Audit         *audit.Service
	Hub           *audit.Hub
	System        *system.Service
	Notifications *notification.Service
}

func NewHandler(p Params) *Handler {
	return &Handler{
		users:         p.Users,
		ledger:        p.Ledger,
		withdrawals:   p.Withdrawals,
		audit:         p.Audit,
		hub:           p.Hub,
		system:        p.System,
		notifications: p.Notifications,
	}
}

func Register(e *gin.Engine, h *Handler, enforcer *casbin.Enforcer) {
	e.GET("/ws", h.Stream)

	api := e.Group("/api",
		middleware.Maintenance(h.maintenance),
		middleware.Authorize(enforcer),
	)

	api.POST("/register", h.RegisterUser)
	api.GET("/users/:id", h.GetUser)
	api.GET("/users/:id/notifications", h.ListNotifications)

	api.POST("/investments", h.CreateInvestment)
	api.GET("/investments/:id", h.GetInvestment)
	api.GET("/investments/:id/balance", h.Balance)
	api.POST("/investments/:id/verify-otp", h.ActivateInvestment)
	api.POST("/investments/:id/proofs", h.SubmitInvestmentProof)

	api.POST("/withdrawals", h.RequestWithdrawal)
	api.GET("/withdrawals/:id", h.GetWithdrawal)
	api.POST("/fees/:id/proof", h.SubmitFeeProof)
	api.POST("/fees/:id/verify-otp", h.VerifyFeeOtp)

	admin := api.Group("/admin")
	admin.GET("/investments", h.ListInvestments)
	admin.POST("/investments/:id/confirm", h.ConfirmInvestment)
	admin.POST("/investments/:id/adjust", h.AdjustInvestment)
	admin.POST("/investments/:id/:action", h.SetInvestmentStatus)
	admin.GET("/withdrawals", h.ListWithdrawals)
	admin.POST("/withdrawals/:id/fees", h.AttachFee)
	admin.POST("/withdrawals/:id/approve", h.ApproveWithdrawal)
	admin.POST("/withdrawals/:id/paid", h.MarkPaid)
	admin.POST("/withdrawals/:id/reject", h.RejectWithdrawal)
	admin.POST("/fees/:id/resend-otp", h.ResendFeeOtp)
	admin.GET("/uploads", h.ListUploads)
	admin.POST("/uploads/:id/review", h.ReviewProof)
	admin.GET("/events", h.ListEvents)
	admin.GET("/system", h.GetSystem)
	admin.PUT("/system", h.UpdateSystem)
	admin.POST("/notifications", h.Broadcast)
}

func (h *Handler) maintenance(ctx context.Context) (bool, error) {
	s, err := h.system.Get(ctx)
	if err != nil {
		return false, err
	}
	return s.Maintenance, nil
}

// bind decodes the JSON body and records a BadRequest on failure.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
