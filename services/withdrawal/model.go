package withdrawal

import (
	"io"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusRequested    Status = "requested"
	StatusFeesRequired Status = "fees_required"
	StatusOtpPending   Status = "otp_pending"
	StatusApproved     Status = "approved"
	StatusPaid         Status = "paid"
	StatusRejected     Status = "rejected"
)

type FeeStatus string

const (
	FeePending       FeeStatus = "pending"
	FeeProofUploaded FeeStatus = "proof_uploaded"
	FeeOtpSent       FeeStatus = "otp_sent"
	FeeVerified      FeeStatus = "verified"
	FeePaid          FeeStatus = "paid"
	FeeRejected      FeeStatus = "rejected"
)

// Cleared reports whether the fee no longer blocks approval.
func (s FeeStatus) Cleared() bool {
	return s == FeeVerified || s == FeePaid
}

type ProofStatus string

const (
	ProofPending  ProofStatus = "pending"
	ProofApproved ProofStatus = "approved"
	ProofRejected ProofStatus = "rejected"
)

type LinkKind string

const (
	LinkFee        LinkKind = "fee"
	LinkInvestment LinkKind = "investment"
)

// ProofLink says what an upload is evidence for.
type ProofLink struct {
	Kind LinkKind `gorm:"column:link_kind;type:varchar(16);index:idx_upload_link" json:"kind"`
	ID   string   `gorm:"column:link_id;type:varchar(32);index:idx_upload_link" json:"id"`
}

func FeeLink(id string) ProofLink        { return ProofLink{Kind: LinkFee, ID: id} }
func InvestmentLink(id string) ProofLink { return ProofLink{Kind: LinkInvestment, ID: id} }

type Withdrawal struct {
	ID           string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Reference    string          `gorm:"column:reference;type:varchar(32)" json:"reference"`
	InvestmentID string          `gorm:"column:investment_id;type:varchar(32);uniqueIndex" json:"investment_id"`
	UserID       string          `gorm:"column:user_id;type:varchar(32);index" json:"user_id"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(20,4)" json:"amount"`
	Status       Status          `gorm:"column:status;type:varchar(16);index" json:"status"`
	Note         string          `gorm:"column:note;type:text" json:"note,omitempty"`
	CreatedAt    time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

type Fee struct {
	ID           string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	WithdrawalID string          `gorm:"column:withdrawal_id;type:varchar(32);index" json:"withdrawal_id"`
	Label        string          `gorm:"column:label;type:varchar(128)" json:"label"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(20,4)" json:"amount"`
	Status       FeeStatus       `gorm:"column:status;type:varchar(16)" json:"status"`
	CreatedAt    time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

type UploadedProof struct {
	ID          string      `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Link        ProofLink   `gorm:"embedded" json:"link"`
	ObjectKey   string      `gorm:"column:object_key;type:varchar(255)" json:"object_key"`
	ContentType string      `gorm:"column:content_type;type:varchar(64)" json:"content_type"`
	Size        int64       `gorm:"column:size" json:"size"`
	Status      ProofStatus `gorm:"column:status;type:varchar(16);index" json:"status"`
	AdminNote   string      `gorm:"column:admin_note;type:text" json:"admin_note,omitempty"`
	CreatedAt   time.Time   `gorm:"column:created_at" json:"created_at"`
	ReviewedAt  *time.Time  `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
}

type WithdrawalDetail struct {
	*Withdrawal
	Fees []*Fee `json:"fees"`
}

type ProofUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type ReviewResult struct {
	Upload *UploadedProof `json:"upload"`
	// Code is the fee OTP issued on approval, returned once.
	Code string `json:"code,omitempty"`
}

type ListFilter struct {
	UserID string
	Status Status
	Limit  int
}
