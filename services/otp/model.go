package otp

import "time"

type Purpose string

const (
	PurposeInvestment Purpose = "investment"
	PurposeFee        Purpose = "fee"
)

// OneTimeCode stores only the bcrypt hash of the code.
type OneTimeCode struct {
	ID         string     `gorm:"column:id;primaryKey;type:varchar(32)"`
	Purpose    Purpose    `gorm:"column:purpose;type:varchar(16)"`
	SubjectID  string     `gorm:"column:subject_id;type:varchar(32);index"`
	OwnerID    string     `gorm:"column:owner_id;type:varchar(32)"`
	CodeHash   string     `gorm:"column:code_hash;type:varchar(80)"`
	ExpiresAt  time.Time  `gorm:"column:expires_at"`
	Consumed   bool       `gorm:"column:consumed;index"`
	ConsumedAt *time.Time `gorm:"column:consumed_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
}

type IssueRequest struct {
	Purpose   Purpose
	SubjectID string
	OwnerID   string
	// TTL falls back to the configured default when zero.
	TTL time.Duration
}
