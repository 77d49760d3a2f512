package main

import (
	"bufio"
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wa_gateway/internal/database"
	"wa_gateway/internal/services"
	"wa_gateway/internal/whatsapp"

	"github.com/gorilla/mux"
)

// loadEnvFile loads environment variables from a file
func loadEnvFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		return // File doesn't exist, skip silently
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	}

	log.Printf("DEBUG: Loaded environment from %s", filename)
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		// Set CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	log.Println("DEBUG: Starting WhatsApp gateway server...")

	// Load environment variables from .env file
	loadEnvFile(".env")
	loadEnvFile("env.local")

	// Initialize database
	log.Println("DEBUG: Initializing database...")
	database.InitDatabase()
	log.Println("DEBUG: Database initialized successfully")

	// Initialize session manager with the whatsmeow transport
	factory, err := whatsapp.NewMeowFactory()
	if err != nil {
		log.Fatal("Failed to initialize transport factory:", err)
	}

	manager := whatsapp.NewManager(factory, whatsapp.NewGormPersistence())
	authService := &services.AuthService{}
	waHandler := whatsapp.NewHandler(manager, authService)

	r := mux.NewRouter()

	// Device session endpoints
	r.HandleFunc("/api/devices", waHandler.HandleListDevices).Methods("GET")
	r.HandleFunc("/api/devices", waHandler.HandleCreateDevice).Methods("POST")
	r.HandleFunc("/api/devices/{sessionId}/connect", waHandler.HandleConnect).Methods("POST")
	r.HandleFunc("/api/devices/{sessionId}/qr", waHandler.HandleQR).Methods("GET")
	r.HandleFunc("/api/devices/{sessionId}/pairing-code", waHandler.HandlePairingCode).Methods("POST")
	r.HandleFunc("/api/devices/{sessionId}/status", waHandler.HandleStatus).Methods("GET")
	r.HandleFunc("/api/devices/{sessionId}/disconnect", waHandler.HandleDisconnect).Methods("POST")
	r.HandleFunc("/api/devices/{sessionId}", waHandler.HandleDelete).Methods("DELETE")

	// Message dispatch
	r.HandleFunc("/api/send", waHandler.HandleSend).Methods("POST")

	// Health check endpoint
	r.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","message":"Gateway is running"}`))
	}).Methods("GET")

	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	server := &http.Server{
		Addr:    ":" + port,
		Handler: corsMiddleware(r),
	}

	go func() {
		log.Printf("WhatsApp gateway started on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error:", err)
		}
	}()

	// Graceful shutdown: close every live session (without logging out,
	// so they can resume on restart), then stop the HTTP server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("DEBUG: Shutting down...")
	manager.ShutdownAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("WARNING: Server shutdown error: %v", err)
	}

	log.Println("DEBUG: Shutdown complete")
}
