package whatsapp

import (
	"fmt"
	"log"
	"time"

	"wa_gateway/internal/database"
	"wa_gateway/internal/models"
)

// Persistence is the durable side of a session: status/phone/last_active
// on the device row plus the append-only send audit log. The device row
// itself is created and deleted by the CRUD layer, never here.
type Persistence interface {
	UpdateStatus(sessionID string, status Status, phone string) error
	TouchLastActive(sessionID string) error
	// MarkDisconnectedIfConnected corrects a durable record that still
	// claims "connected" when the in-memory session is not.
	MarkDisconnectedIfConnected(sessionID string) error
	AppendSendLog(entry *models.NotificationLog) error
}

// GormPersistence writes through to the main application database.
type GormPersistence struct{}

func NewGormPersistence() *GormPersistence {
	return &GormPersistence{}
}

func (p *GormPersistence) UpdateStatus(sessionID string, status Status, phone string) error {
	if err := database.CheckAndReconnect(); err != nil {
		log.Printf("WARNING: Failed to check database connection: %v", err)
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	updates := map[string]interface{}{"status": string(status)}
	if phone == "" {
		updates["phone"] = nil
	} else {
		updates["phone"] = phone
	}
	if status == StatusConnected {
		updates["last_active"] = time.Now()
	}

	return db.Model(&models.WhatsAppDevice{}).
		Where("session_id = ?", sessionID).
		Updates(updates).Error
}

func (p *GormPersistence) TouchLastActive(sessionID string) error {
	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	return db.Model(&models.WhatsAppDevice{}).
		Where("session_id = ?", sessionID).
		Update("last_active", time.Now()).Error
}

func (p *GormPersistence) MarkDisconnectedIfConnected(sessionID string) error {
	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	return db.Model(&models.WhatsAppDevice{}).
		Where("session_id = ? AND status = ?", sessionID, string(StatusConnected)).
		Updates(map[string]interface{}{"status": string(StatusDisconnected), "phone": nil}).Error
}

func (p *GormPersistence) AppendSendLog(entry *models.NotificationLog) error {
	if err := database.CheckAndReconnect(); err != nil {
		log.Printf("WARNING: Failed to check database connection: %v", err)
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	return db.Create(entry).Error
}
