package models

import "time"

// Server represents a monitored server identity. A row is created lazily on
// the first heartbeat seen for an unseen name; names are uppercased at
// ingestion so matching is case-insensitive.
type Server struct {
	ID      int       `json:"id" gorm:"primaryKey;autoIncrement"`
	Name    string    `json:"name" gorm:"size:30;not null;uniqueIndex:idx_server_name"`
	Created time.Time `json:"created" gorm:"not null"`

	// Relationship (optional, for eager loading)
	Uptimes []Uptime `json:"-" gorm:"foreignKey:ServerID"`
}

// TableName specifies the table name for Server
func (Server) TableName() string {
	return "server"
}
