package whatsapp

import (
	"context"
	"fmt"
	"log"
	"time"

	"wa_gateway/internal/models"
)

// SendMessage delivers a text message through a connected session.
// The destination is normalized to canonical form before sending; the
// normalized number is returned on success. Every attempt, success or
// failure, lands in the send audit log.
func (m *Manager) SendMessage(ctx context.Context, sessionID, destination, body string) (string, error) {
	s := m.lookup(sessionID)

	var t Transport
	if s != nil {
		s.mu.RLock()
		if s.status == StatusConnected {
			t = s.transport
		}
		s.mu.RUnlock()
	}

	if t == nil {
		// Self-heal a durable row that still claims connected.
		if err := m.store.MarkDisconnectedIfConnected(sessionID); err != nil {
			log.Printf("WARNING: Session %s - failed to sync durable status: %v", sessionID, err)
		}
		m.logSend(sessionID, stripNonDigits(destination), body, ErrNotConnected)
		return "", ErrNotConnected
	}

	formatted, err := NormalizePhone(destination)
	if err != nil {
		m.logSend(sessionID, stripNonDigits(destination), body, err)
		return "", err
	}

	// Capability-dependent existence check; skipped when the transport
	// cannot do it.
	if checker, ok := t.(DestinationChecker); ok {
		exists, err := checker.IsOnNetwork(formatted)
		if err != nil {
			m.logSend(sessionID, formatted, body, err)
			return "", fmt.Errorf("failed to check destination %s: %w", formatted, err)
		}
		if !exists {
			m.logSend(sessionID, formatted, body, ErrNotOnWhatsApp)
			return "", ErrNotOnWhatsApp
		}
	}

	if err := t.SendText(ctx, formatted, body); err != nil {
		m.logSend(sessionID, formatted, body, err)
		return "", err
	}

	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
	if err := m.store.TouchLastActive(sessionID); err != nil {
		log.Printf("WARNING: Session %s - failed to update last_active: %v", sessionID, err)
	}

	m.logSend(sessionID, formatted, body, nil)
	log.Printf("DEBUG: Session %s - message sent to %s", sessionID, formatted)
	return formatted, nil
}

func (m *Manager) logSend(sessionID, recipient, body string, sendErr error) {
	entry := &models.NotificationLog{
		SessionID: sessionID,
		Recipient: recipient,
		Message:   body,
		Status:    "sent",
		SentAt:    time.Now(),
	}
	if sendErr != nil {
		entry.Status = "failed"
		entry.ErrorMsg = sendErr.Error()
	}

	if err := m.store.AppendSendLog(entry); err != nil {
		log.Printf("WARNING: Session %s - failed to write send log: %v", sessionID, err)
	}
}
