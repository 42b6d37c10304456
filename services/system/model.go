package system

import (
	"time"

	"github.com/shopspring/decimal"
)

const settingsID = "system"

// Settings is a singleton row of runtime-tunable knobs.
type Settings struct {
	ID            string          `gorm:"column:id;primaryKey;type:varchar(16)" json:"-"`
	Maintenance   bool            `gorm:"column:maintenance" json:"maintenance"`
	EngineRunning bool            `gorm:"column:engine_running" json:"engine_running"`
	DefaultRate   decimal.Decimal `gorm:"column:default_rate;type:numeric(10,4)" json:"default_rate"`
	UpdatedAt     time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

type SettingsPatch struct {
	Maintenance   *bool            `json:"maintenance"`
	EngineRunning *bool            `json:"engine_running"`
	DefaultRate   *decimal.Decimal `json:"default_rate"`
}
