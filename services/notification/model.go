package notification

import "time"

// Everyone addresses a notification to all users.
const Everyone = "all"

const (
	TypeInfo    = "info"
	TypeSuccess = "success"
	TypeWarning = "warning"
)

type Notification struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	UserID    string    `gorm:"column:user_id;type:varchar(32);index" json:"user_id"`
	Type      string    `gorm:"column:type;type:varchar(16)" json:"type"`
	Body      string    `gorm:"column:body;type:text" json:"body"`
	EventID   string    `gorm:"column:event_id;type:varchar(32)" json:"event_id,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;index" json:"created_at"`
}

// DeliverPayload is the body of a notification:deliver task.
type DeliverPayload struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Body    string `json:"body"`
	EventID string `json:"event_id,omitempty"`
}
