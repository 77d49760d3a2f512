package whatsapp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendMessageSuccess(t *testing.T) {
	m, f, store := newTestManager()
	tr := connectSession(t, m, f, "s1", "62811")

	formatted, err := m.SendMessage(context.Background(), "s1", "081234567890", "hello")
	require.NoError(t, err)
	require.Equal(t, "6281234567890", formatted)
	require.Equal(t, []string{"6281234567890|hello"}, tr.sentMessages())

	entry := store.lastLog()
	require.NotNil(t, entry)
	require.Equal(t, "s1", entry.SessionID)
	require.Equal(t, "6281234567890", entry.Recipient)
	require.Equal(t, "hello", entry.Message)
	require.Equal(t, "sent", entry.Status)
	require.Empty(t, entry.ErrorMsg)

	require.Contains(t, store.touched, "s1")
}

func TestSendMessageNotConnected(t *testing.T) {
	m, _, store := newTestManager()

	_, err := m.SendMessage(context.Background(), "s1", "081234567890", "hello")
	require.ErrorIs(t, err, ErrNotConnected)

	// The durable record is corrected if it still claims connected.
	require.Equal(t, []string{"s1"}, store.healed)

	entry := store.lastLog()
	require.NotNil(t, entry)
	require.Equal(t, "failed", entry.Status)
	require.Equal(t, ErrNotConnected.Error(), entry.ErrorMsg)
}

func TestSendMessageDuringHandshakeNotConnected(t *testing.T) {
	m, f, _ := newTestManager()
	require.NoError(t, m.InitiateQR("s1"))

	_, err := m.SendMessage(context.Background(), "s1", "081234567890", "hello")
	require.ErrorIs(t, err, ErrNotConnected)
	require.Empty(t, f.lastTransport().sentMessages())
}

func TestSendMessageInvalidDestination(t *testing.T) {
	m, f, store := newTestManager()
	tr := connectSession(t, m, f, "s1", "62811")

	_, err := m.SendMessage(context.Background(), "s1", "not-a-number", "hello")
	require.ErrorIs(t, err, ErrInvalidPhone)
	require.Empty(t, tr.sentMessages())
	require.Equal(t, "failed", store.lastLog().Status)
}

func TestSendMessageTransportError(t *testing.T) {
	m, f, store := newTestManager()
	tr := connectSession(t, m, f, "s1", "62811")

	sendErr := errors.New("stream closed")
	tr.mu.Lock()
	tr.sendErr = sendErr
	tr.mu.Unlock()

	_, err := m.SendMessage(context.Background(), "s1", "081234567890", "hello")
	require.ErrorIs(t, err, sendErr)

	entry := store.lastLog()
	require.Equal(t, "failed", entry.Status)
	require.Equal(t, sendErr.Error(), entry.ErrorMsg)
	require.Empty(t, store.touched)
}

func TestSendMessageDestinationNotOnNetwork(t *testing.T) {
	m, f, store := newTestManager()
	exists := false
	f.checker = &exists
	tr := connectSession(t, m, f, "s1", "62811")

	_, err := m.SendMessage(context.Background(), "s1", "081234567890", "hello")
	require.ErrorIs(t, err, ErrNotOnWhatsApp)
	require.Empty(t, tr.sentMessages())

	entry := store.lastLog()
	require.Equal(t, "failed", entry.Status)
	require.Equal(t, "6281234567890", entry.Recipient)
}

func TestSendMessageDestinationCheckPasses(t *testing.T) {
	m, f, _ := newTestManager()
	exists := true
	f.checker = &exists
	tr := connectSession(t, m, f, "s1", "62811")

	formatted, err := m.SendMessage(context.Background(), "s1", "081234567890", "hello")
	require.NoError(t, err)
	require.Equal(t, "6281234567890", formatted)
	require.Equal(t, []string{"6281234567890|hello"}, tr.sentMessages())
}
