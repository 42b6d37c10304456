package audit

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ActorSystem = "system"
	ActorAdmin  = "admin"
	ActorClient = "client"
)

const (
	UserRegistered = "user.registered"

	InvestmentCreated   = "investment.created"
	InvestmentConfirmed = "investment.confirmed"
	InvestmentActivated = "investment.activated"
	InvestmentCompleted = "investment.completed"
	InvestmentAdjusted  = "investment.adjusted"
	InvestmentStatus    = "investment.status"
	InvestmentAssigned  = "investment.assigned"

	WithdrawalRequested = "withdrawal.requested"
	WithdrawalApproved  = "withdrawal.approved"
	WithdrawalPaid      = "withdrawal.paid"
	WithdrawalRejected  = "withdrawal.rejected"

	FeeAttached    = "fee.attached"
	FeeOtpIssued   = "fee.otp_issued"
	FeeVerified    = "fee.verified"
	ProofSubmitted = "proof.submitted"
	ProofReviewed  = "proof.reviewed"

	SystemUpdated         = "system.updated"
	NotificationBroadcast = "notification.broadcast"
)

// AuditEvent is append-only; rows are never updated or deleted.
type AuditEvent struct {
	ID        string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Actor     string         `gorm:"column:actor;type:varchar(32);index" json:"actor"`
	Type      string         `gorm:"column:type;type:varchar(64);index" json:"type"`
	Payload   datatypes.JSON `gorm:"column:payload" json:"payload"`
	CreatedAt time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

// Event is what subscribers receive.
type Event struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// String returns payload[key] when it is a string.
func (e Event) String(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
