package models

import "time"

// Uptime is the running daily counter for one server: the number of alive
// ticks accumulated so far on RecordDate, plus the derived percentage.
// There is at most one row per (server, date).
type Uptime struct {
	ID               int       `json:"id" gorm:"primaryKey;autoIncrement"`
	RecordDate       time.Time `json:"record_date" gorm:"type:date;not null;uniqueIndex:idx_uptime_server_date,priority:2"`
	LastUpdated      time.Time `json:"last_updated" gorm:"not null"`
	Uptime           int64     `json:"uptime" gorm:"not null;default:0"`
	UptimePercentage float64   `json:"uptime_percentage" gorm:"not null;default:100"`
	ServerID         int       `json:"server_id" gorm:"not null;uniqueIndex:idx_uptime_server_date,priority:1"`

	// Relationship (optional, for eager loading)
	Server Server `json:"-" gorm:"foreignKey:ServerID"`
}

// TableName specifies the table name for Uptime
func (Uptime) TableName() string {
	return "uptime"
}
