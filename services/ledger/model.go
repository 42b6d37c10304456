package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRunning   Status = "running"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusOnHold    Status = "on_hold"
	StatusCancelled Status = "cancelled"
)

// Accruing reports whether the balance grows with time in this status.
func (s Status) Accruing() bool {
	return s == StatusRunning || s == StatusActive
}

type Duration string

const (
	Duration4h Duration = "4h"
	Duration8h Duration = "8h"
	Duration1d Duration = "1d"
	Duration7d Duration = "7d"
	Duration1m Duration = "1m"
)

var durations = map[Duration]time.Duration{
	Duration4h: 4 * time.Hour,
	Duration8h: 8 * time.Hour,
	Duration1d: 24 * time.Hour,
	Duration7d: 7 * 24 * time.Hour,
	Duration1m: 30 * 24 * time.Hour,
}

func ParseDuration(v string) (Duration, bool) {
	d := Duration(v)
	_, ok := durations[d]
	return d, ok
}

func (d Duration) Std() time.Duration {
	return durations[d]
}

type Investment struct {
	ID             string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	UserID         *string         `gorm:"column:user_id;type:varchar(32);index" json:"user_id"`
	PackageRef     string          `gorm:"column:package_ref;type:varchar(64)" json:"package_ref"`
	Principal      decimal.Decimal `gorm:"column:principal;type:numeric(20,4)" json:"principal"`
	Status         Status          `gorm:"column:status;type:varchar(16);index" json:"status"`
	StartAt        *time.Time      `gorm:"column:start_at" json:"start_at"`
	Duration       Duration        `gorm:"column:duration;type:varchar(8)" json:"duration"`
	Rate           decimal.Decimal `gorm:"column:rate;type:numeric(10,4)" json:"rate"`
	FeePercent     decimal.Decimal `gorm:"column:fee_percent;type:numeric(10,4)" json:"fee_percent"`
	FeeFixed       decimal.Decimal `gorm:"column:fee_fixed;type:numeric(20,4)" json:"fee_fixed"`
	ProgressPinned int             `gorm:"column:progress_pinned" json:"-"`
	CompletedAt    *time.Time      `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt      time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (i *Investment) Owner() string {
	if i.UserID == nil {
		return ""
	}
	return *i.UserID
}

type CreateIntentRequest struct {
	UserID     string          `json:"user_id"`
	PackageRef string          `json:"package_ref"`
	Principal  decimal.Decimal `json:"principal"`
	Duration   string          `json:"duration"`
}

type Adjustment struct {
	FeePercent *decimal.Decimal `json:"fee_percent"`
	FeeFixed   *decimal.Decimal `json:"fee_fixed"`
	Principal  *decimal.Decimal `json:"principal"`
}

type ListFilter struct {
	UserID string
	Status Status
	Limit  int
}

// State is the derived balance of an investment at a point in time.
type State struct {
	Progress    decimal.Decimal `json:"-"`
	ProgressPct int64           `json:"progress"`
	Principal   decimal.Decimal `json:"principal"`
	Accrued     decimal.Decimal `json:"accrued"`
	Fees        decimal.Decimal `json:"fees_applied"`
	Net         decimal.Decimal `json:"net_balance"`
	FeePercent  decimal.Decimal `json:"fee_percent"`
	FeeFixed    decimal.Decimal `json:"fee_fixed"`
}

type RecomputeResult struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
}
