package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"wa_gateway/internal/database"
	"wa_gateway/internal/models"
	"wa_gateway/internal/services"

	"github.com/gorilla/mux"
)

// Handler exposes the session manager over HTTP. Every route requires a
// bearer token; a device may only be touched by the user that owns it.
type Handler struct {
	manager     *Manager
	authService *services.AuthService
}

func NewHandler(manager *Manager, authService *services.AuthService) *Handler {
	return &Handler{
		manager:     manager,
		authService: authService,
	}
}

// extractClaimsFromToken extracts JWT claims from the Authorization header
func (h *Handler) extractClaimsFromToken(r *http.Request) (*services.JWTClaims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("authorization header required")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return nil, fmt.Errorf("invalid authorization header format")
	}

	claims, err := h.authService.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v", err)
	}

	return claims, nil
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// deviceForUser loads a device row and verifies ownership.
func (h *Handler) deviceForUser(userID uint, sessionID string) (*models.WhatsAppDevice, error) {
	db := database.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	var device models.WhatsAppDevice
	if err := db.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

// HandleListDevices returns the caller's devices with live session state
func (h *Handler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	claims, err := h.extractClaimsFromToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	db := database.GetDB()
	var devices []models.WhatsAppDevice
	if err := db.Where("user_id = ?", claims.UserID).Find(&devices).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	out := make([]map[string]interface{}, 0, len(devices))
	for _, d := range devices {
		out = append(out, map[string]interface{}{
			"id":              d.ID,
			"name":            d.Name,
			"session_id":      d.SessionID,
			"phone":           d.Phone,
			"status":          d.Status,
			"last_active":     d.LastActive,
			"liveStatus":      h.manager.GetStatus(d.SessionID),
			"hasQR":           h.manager.GetQRCode(d.SessionID) != "",
			"hasPairingCode":  h.manager.GetPairingCode(d.SessionID) != "",
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": out})
}

// HandleCreateDevice registers a new connection slot for the caller
func (h *Handler) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	claims, err := h.extractClaimsFromToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "name is required"})
		return
	}

	device := models.WhatsAppDevice{
		UserID:    claims.UserID,
		Name:      req.Name,
		SessionID: fmt.Sprintf("wa_%d_%d", claims.UserID, time.Now().UnixMilli()),
		Status:    string(StatusDisconnected),
	}

	db := database.GetDB()
	if err := db.Create(&device).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	log.Printf("DEBUG: Device %s created for user %d", device.SessionID, claims.UserID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"device": map[string]interface{}{
			"id":         device.ID,
			"name":       device.Name,
			"session_id": device.SessionID,
			"status":     device.Status,
		},
	})
}

// HandleConnect starts the QR handshake in the background
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	claims, err := h.extractClaimsFromToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	sessionID := mux.Vars(r)["sessionId"]
	if _, err := h.deviceForUser(claims.UserID, sessionID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "device not found"})
		return
	}

	// Initialize in background; progress is visible via the status and
	// QR endpoints.
	go func() {
		if err := h.manager.InitiateQR(sessionID); err != nil {
			log.Printf("ERROR: Session %s - init failed: %v", sessionID, err)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Connecting..."})
}

// HandleQR returns the current authentication artifacts and state
func (h *Handler) HandleQR(w http.ResponseWriter, r *http.Request) {
	claims, err := h.extractClaimsFromToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	sessionID := mux.Vars(r)["sessionId"]
	if _, err := h.deviceForUser(claims.UserID, sessionID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "device not found"})
		return
	}

	qrCode := h.manager.GetQRCode(sessionID)
	pairingCode := h.manager.GetPairingCode(sessionID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"qrCode":         qrCode,
		"pairingCode":    pairingCode,
		"status":         h.manager.GetStatus(sessionID),
		"phone":          h.manager.GetConnectedPhone(sessionID),
		"hasQR":          qrCode != "",
		"hasPairingCode": pairingCode != "",
	})
}

// HandlePairingCode requests a phone-pairing code
func (h *Handler) HandlePairingCode(w http.ResponseWriter, r *http.Request) {
	claims, err := h.extractClaimsFromToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	sessionID := mux.Vars(r)["sessionId"]
	if _, err := h.deviceForUser(claims.UserID, sessionID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "device not found"})
		return
	}

	var req struct {
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PhoneNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "Phone number is required"})
		return
	}

	code, err := h.manager.InitiatePhonePairing(r.Context(), sessionID, req.PhoneNumber)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidPhone) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"pairingCode": code,
		"message":     "Enter this code in WhatsApp > Linked Devices > Link with phone number",
	})
}

// HandleStatus returns the live session state
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	claims, err := h.extractClaimsFromToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	sessionID := mux.Vars(r)["sessionId"]
	if _, err := h.deviceForUser(claims.UserID, sessionID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "device not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      h.manager.GetStatus(sessionID),
		"phone":       h.manager.GetConnectedPhone(sessionID),
		"isConnected": h.manager.IsConnected(sessionID),
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

// HandleDisconnect logs the session out and wipes its credentials
func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	claims, err := h.extractClaimsFromToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	sessionID := mux.Vars(r)["sessionId"]
	if _, err := h.deviceForUser(claims.UserID, sessionID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "device not found"})
		return
	}

	if err := h.manager.Disconnect(sessionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleDelete disconnects and forgets the session
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	claims, err := h.extractClaimsFromToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	sessionID := mux.Vars(r)["sessionId"]
	device, err := h.deviceForUser(claims.UserID, sessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "device not found"})
		return
	}

	if err := h.manager.DeleteSession(sessionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	if err := database.GetDB().Delete(device).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleSend sends a text message through a connected session
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	claims, err := h.extractClaimsFromToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	var req struct {
		SessionID string `json:"sessionId"`
		Phone     string `json:"phone"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.Phone == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "sessionId, phone, and message are required"})
		return
	}

	if _, err := h.deviceForUser(claims.UserID, req.SessionID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "device not found"})
		return
	}

	formatted, err := h.manager.SendMessage(r.Context(), req.SessionID, req.Phone, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrInvalidPhone):
			status = http.StatusBadRequest
		case errors.Is(err, ErrNotConnected), errors.Is(err, ErrNotOnWhatsApp):
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "phone": formatted})
}
