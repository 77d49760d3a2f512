package models

import (
	"time"

	"gorm.io/gorm"
)

// NotificationLog is the append-only audit trail of send attempts.
// One row per attempt, success or failure; never used as a retry queue.
type NotificationLog struct {
	ID        uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID string         `json:"session_id" gorm:"size:100;index;not null"`
	Recipient string         `json:"recipient" gorm:"size:20;not null"`
	Message   string         `json:"message" gorm:"type:text"`
	Status    string         `json:"status" gorm:"type:varchar(20);default:'failed';check:status IN ('sent','failed')"`
	ErrorMsg  string         `json:"error_msg" gorm:"size:500"`
	SentAt    time.Time      `json:"sent_at" gorm:"autoCreateTime"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for NotificationLog
func (NotificationLog) TableName() string {
	return "notification_logs"
}
