package whatsapp

import "sync"

// artifactStore holds the short-lived authentication material shown to
// the end user: at most one QR data URL or one pairing code per
// session. Issuing a new artifact supersedes the previous one, and a
// session reaching connected or disconnected clears it.
type artifactStore struct {
	mu      sync.RWMutex
	qr      map[string]string
	pairing map[string]string
}

func newArtifactStore() *artifactStore {
	return &artifactStore{
		qr:      make(map[string]string),
		pairing: make(map[string]string),
	}
}

func (a *artifactStore) SetQR(sessionID, dataURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.qr[sessionID] = dataURL
	delete(a.pairing, sessionID)
}

func (a *artifactStore) SetPairingCode(sessionID, code string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pairing[sessionID] = code
	delete(a.qr, sessionID)
}

// QR returns the current QR artifact, or "" when none exists.
func (a *artifactStore) QR(sessionID string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.qr[sessionID]
}

// PairingCode returns the current pairing code, or "" when none exists.
func (a *artifactStore) PairingCode(sessionID string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pairing[sessionID]
}

func (a *artifactStore) Clear(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.qr, sessionID)
	delete(a.pairing, sessionID)
}
