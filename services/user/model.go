package user

import "time"

type User struct {
	ID          string     `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	FirstName   string     `gorm:"column:first_name;type:varchar(64)" json:"first_name"`
	LastName    string     `gorm:"column:last_name;type:varchar(64)" json:"last_name"`
	CountryCode string     `gorm:"column:country_code;type:varchar(4)" json:"country_code"`
	Dial        string     `gorm:"column:dial;type:varchar(8)" json:"dial"`
	Phone       string     `gorm:"column:phone;type:varchar(20);uniqueIndex" json:"phone"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"created_at"`
	LastSeenAt  *time.Time `gorm:"column:last_seen_at" json:"last_seen_at"`
}

type RegisterRequest struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	CountryCode  string `json:"country_code"`
	Dial         string `json:"dial"`
	Phone        string `json:"phone"`
	InvestmentID string `json:"investment_id"`
}
