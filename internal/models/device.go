package models

import (
	"time"

	"gorm.io/gorm"
)

// WhatsAppDevice is the durable record for one WhatsApp connection slot.
// The row is created by the device CRUD layer; the session core only
// updates status, phone and last_active.
type WhatsAppDevice struct {
	ID         uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID     uint           `json:"user_id" gorm:"not null;index"`
	Name       string         `json:"name" gorm:"size:100"`
	SessionID  string         `json:"session_id" gorm:"size:100;uniqueIndex;not null"`
	Phone      *string        `json:"phone" gorm:"size:20"`
	Status     string         `json:"status" gorm:"type:varchar(20);default:'disconnected';check:status IN ('disconnected','initializing','qr_pending','pairing','waiting_pair','connected')"`
	LastActive *time.Time     `json:"last_active"`
	CreatedAt  time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for WhatsAppDevice
func (WhatsAppDevice) TableName() string {
	return "whatsapp_devices"
}
