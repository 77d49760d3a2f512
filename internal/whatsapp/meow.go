package whatsapp

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// safeSessionID sanitizes a session id into a filesystem/key-safe token.
func safeSessionID(sessionID string) string {
	return unsafeIDChars.ReplaceAllString(sessionID, "_")
}

// MeowFactory builds whatsmeow-backed transports. Credential material
// defaults to one sqlite store per session under the session directory.
// WA_STORE_DRIVER=postgres switches to a shared store via WA_STORE_DSN;
// the shared store holds a single device, so it suits single-session
// deployments only.
type MeowFactory struct {
	dir    string
	driver string
	dsn    string
}

func NewMeowFactory() (*MeowFactory, error) {
	dir := os.Getenv("WA_SESSION_DIR")
	if dir == "" {
		dir = ".wa_sessions"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session dir %s: %w", dir, err)
	}

	driver := os.Getenv("WA_STORE_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}

	f := &MeowFactory{dir: dir, driver: driver, dsn: os.Getenv("WA_STORE_DSN")}
	if driver != "sqlite" && f.dsn == "" {
		return nil, fmt.Errorf("WA_STORE_DSN is required when WA_STORE_DRIVER=%s", driver)
	}
	return f, nil
}

func (f *MeowFactory) storePath(sessionID string) string {
	return filepath.Join(f.dir, safeSessionID(sessionID)+".db")
}

func (f *MeowFactory) openContainer(ctx context.Context, sessionID string) (*sqlstore.Container, error) {
	switch f.driver {
	case "postgres", "pgx":
		return sqlstore.New(ctx, "pgx", f.dsn, nil)
	default:
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL", f.storePath(sessionID))
		return sqlstore.New(ctx, "sqlite", dsn, nil)
	}
}

func (f *MeowFactory) New(sessionID string) (Transport, error) {
	ctx := context.Background()

	container, err := f.openContainer(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to get device store: %w", err)
	}

	client := whatsmeow.NewClient(device, nil)
	// A dropped link is terminal for the manager; reconnecting is an
	// explicit re-init by the caller, not the client's business.
	client.EnableAutoReconnect = false

	return &meowTransport{
		sessionID: sessionID,
		client:    client,
		container: container,
		events:    make(chan LifecycleEvent, 16),
		done:      make(chan struct{}),
	}, nil
}

func (f *MeowFactory) WipeCredentials(sessionID string) error {
	if f.driver == "sqlite" {
		path := f.storePath(sessionID)
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
		return nil
	}

	// Shared store: drop the device rows instead of files.
	ctx := context.Background()
	container, err := f.openContainer(ctx, sessionID)
	if err != nil {
		return err
	}
	defer container.Close()

	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return err
	}
	for _, device := range devices {
		if err := container.DeleteDevice(ctx, device); err != nil {
			return err
		}
	}
	return nil
}

// meowTransport is one whatsmeow client bound to one session's
// credential store.
type meowTransport struct {
	sessionID string
	client    *whatsmeow.Client
	container *sqlstore.Container

	events    chan LifecycleEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (t *meowTransport) Events() <-chan LifecycleEvent { return t.events }
func (t *meowTransport) Done() <-chan struct{}         { return t.done }

func (t *meowTransport) emit(evt LifecycleEvent) {
	select {
	case <-t.done:
	case t.events <- evt:
	}
}

// clearStoredDevices drops every device row from the credential
// container after a stored session turns out to be unusable.
func (t *meowTransport) clearStoredDevices(ctx context.Context) error {
	devices, err := t.container.GetAllDevices(ctx)
	if err != nil {
		return err
	}
	for _, device := range devices {
		if err := t.container.DeleteDevice(ctx, device); err != nil {
			return err
		}
	}
	return nil
}

func (t *meowTransport) Start(ctx context.Context) error {
	t.client.AddEventHandler(t.handleEvent)

	if t.client.Store.ID != nil {
		log.Printf("DEBUG: Session %s - found stored credentials, resuming", t.sessionID)
		err := t.client.Connect()
		if err == nil {
			return nil
		}

		// Stored device is no longer usable; clear it and degrade to a
		// fresh QR handshake.
		log.Printf("DEBUG: Session %s - failed to resume stored session: %v", t.sessionID, err)
		if err := t.clearStoredDevices(ctx); err != nil {
			log.Printf("DEBUG: Session %s - error clearing invalid session: %v", t.sessionID, err)
		}

		device, err := t.container.GetFirstDevice(ctx)
		if err != nil {
			return fmt.Errorf("failed to get device store: %w", err)
		}
		client := whatsmeow.NewClient(device, nil)
		client.EnableAutoReconnect = false
		client.AddEventHandler(t.handleEvent)
		t.client = client
	}

	// The QR channel must be acquired before the first Connect.
	qrChan, err := t.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	go t.forwardQR(qrChan)

	if err := t.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect client: %w", err)
	}
	return nil
}

func (t *meowTransport) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			t.emit(LifecycleEvent{Kind: EventQRCode, QRData: item.Code})
		case "success":
			// PairSuccess/Connected arrive through the client event
			// handler; nothing to forward here.
		case "timeout":
			log.Printf("DEBUG: Session %s - QR code timed out", t.sessionID)
			t.emit(LifecycleEvent{Kind: EventClosed, Reason: CloseTransient})
		default:
			if item.Error != nil {
				log.Printf("ERROR: Session %s - QR channel error: %v", t.sessionID, item.Error)
				t.emit(LifecycleEvent{Kind: EventClosed, Reason: CloseTransient})
			}
		}
	}
}

func (t *meowTransport) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.PairSuccess:
		t.emit(LifecycleEvent{Kind: EventAuthenticated})
	case *events.Connected:
		phone := ""
		if id := t.client.Store.ID; id != nil {
			phone = id.User
		}
		t.emit(LifecycleEvent{Kind: EventReady, Phone: phone})
	case *events.LoggedOut:
		log.Printf("DEBUG: Session %s - logged out by server (reason %v)", t.sessionID, evt.Reason)
		t.emit(LifecycleEvent{Kind: EventClosed, Reason: CloseLoggedOut})
	case *events.StreamReplaced:
		t.emit(LifecycleEvent{Kind: EventClosed, Reason: CloseTransient})
	case *events.Disconnected:
		t.emit(LifecycleEvent{Kind: EventClosed, Reason: CloseTransient})
	}
}

func (t *meowTransport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	code, err := t.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", fmt.Errorf("failed to generate pairing code: %w", err)
	}
	return code, nil
}

func (t *meowTransport) SendText(ctx context.Context, phone, body string) error {
	jid := types.NewJID(phone, types.DefaultUserServer)
	_, err := t.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	return err
}

// IsOnNetwork implements the optional destination existence check.
func (t *meowTransport) IsOnNetwork(phone string) (bool, error) {
	resp, err := t.client.IsOnWhatsApp([]string{"+" + phone})
	if err != nil {
		return false, err
	}
	if len(resp) == 0 {
		return false, nil
	}
	return resp[0].IsIn, nil
}

func (t *meowTransport) Logout(ctx context.Context) (err error) {
	// The underlying client can panic when the socket is half-dead.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("logout panicked: %v", r)
		}
	}()
	return t.client.Logout(ctx)
}

func (t *meowTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.client.RemoveEventHandlers()
		func() {
			defer func() { recover() }()
			t.client.Disconnect()
		}()
		if err := t.container.Close(); err != nil {
			log.Printf("DEBUG: Session %s - error closing credential store: %v", t.sessionID, err)
		}
	})
}
