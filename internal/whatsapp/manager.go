package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
)

var (
	// ErrNotConnected is returned for operations that need a live,
	// authenticated session.
	ErrNotConnected = errors.New("session not connected")

	// ErrNotOnWhatsApp is returned when the destination existence check
	// reports the number is not registered on the network.
	ErrNotOnWhatsApp = errors.New("number is not registered on WhatsApp")

	// ErrShuttingDown is returned for handshakes requested after
	// ShutdownAll has begun.
	ErrShuttingDown = errors.New("manager is shutting down")
)

// session is the in-process side of one connection slot. transport is
// exclusively owned here; nothing outside the Manager ever sees it.
type session struct {
	id string

	// op serializes initiate/disconnect/delete against each other.
	// Never held by the event loop, which only takes mu.
	op sync.Mutex

	mu         sync.RWMutex
	status     Status
	phone      string
	lastActive time.Time
	transport  Transport
}

// Manager is the session registry and connection supervisor: it owns
// the session table, runs one event loop per live transport, and keeps
// the durable record in sync with the in-memory state.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	shutdown bool

	factory   TransportFactory
	store     Persistence
	artifacts *artifactStore
}

func NewManager(factory TransportFactory, store Persistence) *Manager {
	return &Manager{
		sessions:  make(map[string]*session),
		factory:   factory,
		store:     store,
		artifacts: newArtifactStore(),
	}
}

func (m *Manager) getOrCreate(sessionID string) *session {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.sessions[sessionID]; ok {
		return s
	}
	s = &session{id: sessionID, status: StatusDisconnected}
	m.sessions[sessionID] = s
	return s
}

func (m *Manager) lookup(sessionID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// InitiateQR starts the QR handshake for a session. Calling it while a
// handshake is in flight or the session is connected is a no-op.
func (m *Manager) InitiateQR(sessionID string) error {
	_, err := m.initiate(context.Background(), sessionID, "")
	return err
}

// InitiatePhonePairing starts the phone-pairing handshake and returns
// the pairing code the user must enter on their phone.
func (m *Manager) InitiatePhonePairing(ctx context.Context, sessionID, phoneNumber string) (string, error) {
	pairPhone, err := normalizePairingPhone(phoneNumber)
	if err != nil {
		return "", err
	}
	return m.initiate(ctx, sessionID, pairPhone)
}

func (m *Manager) initiate(ctx context.Context, sessionID, pairPhone string) (string, error) {
	s := m.getOrCreate(sessionID)

	s.op.Lock()
	defer s.op.Unlock()

	// Checked under op so ShutdownAll cannot miss a transport bound
	// after its sweep.
	m.mu.RLock()
	shuttingDown := m.shutdown
	m.mu.RUnlock()
	if shuttingDown {
		return "", ErrShuttingDown
	}

	s.mu.Lock()
	if s.status != StatusDisconnected {
		// A handshake is in flight or the session is live; starting a
		// second transport would desync the upstream connection.
		status := s.status
		s.mu.Unlock()
		log.Printf("DEBUG: Session %s already %s, skipping init", sessionID, status)
		if pairPhone != "" {
			return m.artifacts.PairingCode(sessionID), nil
		}
		return "", nil
	}
	stale := s.transport
	s.transport = nil
	s.status = StatusInitializing
	s.mu.Unlock()

	// Defensive teardown of a half-dead handle from a previous attempt.
	// Credentials are kept so a prior login can resume without rescanning.
	m.artifacts.Clear(sessionID)
	if stale != nil {
		stale.Close()
	}

	// Optimistic durable write so pollers of the durable store see
	// progress before the first transport event arrives.
	durable := StatusQRPending
	if pairPhone != "" {
		durable = StatusPairing
	}
	m.persistStatus(sessionID, durable, "")

	t, err := m.factory.New(sessionID)
	if err != nil {
		m.rollback(s)
		return "", fmt.Errorf("failed to build transport for %s: %w", sessionID, err)
	}

	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()

	go m.supervise(s, t)

	if err := t.Start(ctx); err != nil {
		m.detach(s, t)
		t.Close()
		m.rollback(s)
		return "", fmt.Errorf("failed to start session %s: %w", sessionID, err)
	}

	if pairPhone == "" {
		log.Printf("DEBUG: Session %s initializing (mode=qr)", sessionID)
		return "", nil
	}
	log.Printf("DEBUG: Session %s initializing (mode=phone)", sessionID)

	code, err := t.RequestPairingCode(ctx, pairPhone)
	if err != nil {
		m.detach(s, t)
		t.Close()
		m.rollback(s)
		return "", fmt.Errorf("failed to request pairing code: %w", err)
	}

	m.artifacts.SetPairingCode(sessionID, code)
	s.mu.Lock()
	if s.status == StatusInitializing {
		s.status = StatusWaitingPair
	}
	s.mu.Unlock()
	m.persistStatus(sessionID, StatusWaitingPair, "")

	log.Printf("DEBUG: Session %s - pairing code issued", sessionID)
	return code, nil
}

// supervise drains one transport's event stream. Events for a session
// are applied in arrival order by this single goroutine.
func (m *Manager) supervise(s *session, t Transport) {
	for {
		select {
		case evt := <-t.Events():
			m.handleEvent(s, t, evt)
		case <-t.Done():
			return
		}
	}
}

// handleEvent applies one lifecycle event. Events from a transport that
// is no longer bound to the session are dropped: a teardown or a fresh
// handshake may have raced a buffered event, and applying it would
// resurrect dead state. The bound check, the state change and its
// durable write share one critical section so a concurrent teardown
// cannot interleave between them.
func (m *Manager) handleEvent(s *session, t Transport, evt LifecycleEvent) {
	switch evt.Kind {
	case EventQRCode:
		png, err := qrcode.Encode(evt.QRData, qrcode.Medium, 256)
		if err != nil {
			log.Printf("ERROR: Session %s - failed to generate QR code: %v", s.id, err)
			return
		}

		s.mu.Lock()
		if s.transport != t {
			s.mu.Unlock()
			log.Printf("DEBUG: Session %s - dropping QR event from detached transport", s.id)
			return
		}
		if s.status == StatusInitializing || s.status == StatusQRPending {
			s.status = StatusQRPending
		}
		m.artifacts.SetQR(s.id, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(png))
		m.persistStatus(s.id, StatusQRPending, "")
		s.mu.Unlock()
		log.Printf("DEBUG: Session %s - QR code generated", s.id)

	case EventAuthenticated:
		log.Printf("DEBUG: Session %s authenticated", s.id)

	case EventReady:
		s.mu.Lock()
		if s.transport != t {
			s.mu.Unlock()
			log.Printf("DEBUG: Session %s - dropping ready event from detached transport", s.id)
			return
		}
		s.status = StatusConnected
		s.phone = evt.Phone
		s.lastActive = time.Now()
		m.artifacts.Clear(s.id)
		m.persistStatus(s.id, StatusConnected, evt.Phone)
		s.mu.Unlock()
		log.Printf("DEBUG: Session %s connected as %s", s.id, evt.Phone)

	case EventClosed:
		s.mu.Lock()
		if s.transport != t {
			s.mu.Unlock()
			log.Printf("DEBUG: Session %s - dropping close event from detached transport", s.id)
			return
		}
		s.transport = nil
		s.status = StatusDisconnected
		s.phone = ""
		m.artifacts.Clear(s.id)
		m.persistStatus(s.id, StatusDisconnected, "")
		s.mu.Unlock()
		t.Close()

		if evt.Reason == CloseLoggedOut {
			// Authoritative logout: the stored credentials are dead.
			log.Printf("DEBUG: Session %s logged out, wiping credentials", s.id)
			if err := m.factory.WipeCredentials(s.id); err != nil {
				log.Printf("WARNING: Session %s - failed to wipe credentials: %v", s.id, err)
			}
		} else {
			log.Printf("DEBUG: Session %s closed (%s), credentials kept for resume", s.id, evt.Reason)
		}
	}
}

// detach removes t from the session if it is still the bound transport.
func (m *Manager) detach(s *session, t Transport) {
	s.mu.Lock()
	if s.transport == t {
		s.transport = nil
	}
	s.mu.Unlock()
}

// rollback reverts a failed handshake to disconnected, in memory and
// durably. Never touches credentials.
func (m *Manager) rollback(s *session) {
	s.mu.Lock()
	s.transport = nil
	s.status = StatusDisconnected
	s.phone = ""
	s.mu.Unlock()
	m.artifacts.Clear(s.id)
	m.persistStatus(s.id, StatusDisconnected, "")
}

// Disconnect logs the session out and wipes its credential material.
// Idempotent: disconnecting an unknown or already-dead session succeeds.
func (m *Manager) Disconnect(sessionID string) error {
	s := m.lookup(sessionID)
	if s == nil {
		// Nothing in memory; still make sure the durable record agrees.
		m.persistStatus(sessionID, StatusDisconnected, "")
		return nil
	}

	s.op.Lock()
	defer s.op.Unlock()

	m.cleanup(s)
	return nil
}

// DeleteSession disconnects, wipes credentials and forgets the session
// entirely. Deleting the durable row is the caller's business.
func (m *Manager) DeleteSession(sessionID string) error {
	if err := m.Disconnect(sessionID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	log.Printf("DEBUG: Session %s deleted", sessionID)
	return nil
}

// cleanup is the best-effort teardown path: logout, close, drop
// artifacts, wipe credentials. A failing step never blocks the rest.
func (m *Manager) cleanup(s *session) {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.status = StatusDisconnected
	s.phone = ""
	m.artifacts.Clear(s.id)
	m.persistStatus(s.id, StatusDisconnected, "")
	s.mu.Unlock()

	if t != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := t.Logout(ctx); err != nil {
			log.Printf("DEBUG: Session %s - logout failed: %v", s.id, err)
		}
		cancel()
		t.Close()
	}

	if err := m.factory.WipeCredentials(s.id); err != nil {
		log.Printf("WARNING: Session %s - failed to wipe credentials: %v", s.id, err)
	}
}

// ShutdownAll closes every live transport without logging out, so the
// sessions can resume after the process restarts. Invoked by the host
// during graceful shutdown.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	m.shutdown = true
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		// op waits out any handshake still in flight; a transport it
		// bound must be closed here, not leaked past shutdown.
		s.op.Lock()
		s.mu.Lock()
		t := s.transport
		s.transport = nil
		s.status = StatusDisconnected
		s.phone = ""
		m.artifacts.Clear(s.id)
		s.mu.Unlock()

		if t != nil {
			t.Close()
		}
		s.op.Unlock()
	}

	log.Printf("DEBUG: All sessions shut down (%d)", len(sessions))
}

func (m *Manager) persistStatus(sessionID string, status Status, phone string) {
	if err := m.store.UpdateStatus(sessionID, status, phone); err != nil {
		log.Printf("WARNING: Session %s - failed to persist status %s: %v", sessionID, status, err)
	}
}

// GetStatus returns the in-memory state; unknown sessions are disconnected.
func (m *Manager) GetStatus(sessionID string) Status {
	s := m.lookup(sessionID)
	if s == nil {
		return StatusDisconnected
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (m *Manager) IsConnected(sessionID string) bool {
	return m.GetStatus(sessionID) == StatusConnected
}

// GetConnectedPhone returns the authenticated network identity, or ""
// unless the session is connected.
func (m *Manager) GetConnectedPhone(sessionID string) string {
	s := m.lookup(sessionID)
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusConnected {
		return ""
	}
	return s.phone
}

// GetQRCode returns the current QR artifact as a PNG data URL, or "".
func (m *Manager) GetQRCode(sessionID string) string {
	return m.artifacts.QR(sessionID)
}

// GetPairingCode returns the current pairing code, or "".
func (m *Manager) GetPairingCode(sessionID string) string {
	return m.artifacts.PairingCode(sessionID)
}
