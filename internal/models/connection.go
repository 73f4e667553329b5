package models

import "time"

// Connection is one row of the durable connection registry
type Connection struct {
	ConnectionID string    `gorm:"primaryKey;type:varchar(128)" json:"connection_id"`
	ConnectedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"connected_at"`
}

func (Connection) TableName() string {
	return "connections"
}
