package events

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/droidpipe/agent/internal/models"
	"github.com/droidpipe/agent/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitFileOnly(filepath.Join(os.TempDir(), "droidpipe-events-test.log"))
	os.Exit(m.Run())
}

func TestHubBroadcastReachesEveryConnection(t *testing.T) {
	h := NewHub()
	a := h.attach()
	b := h.attach()
	require.Equal(t, 2, h.ConnectionCount())

	h.Broadcast(models.Message{Type: models.MsgTransferState, Payload: "probing"})

	for _, conn := range []*connection{a, b} {
		select {
		case msg := <-conn.sendCh:
			assert.Equal(t, models.MsgTransferState, msg.Type)
		case <-time.After(time.Second):
			t.Fatalf("connection %s never received the broadcast", conn.id)
		}
	}
}

func TestHubDetachClosesSendChannel(t *testing.T) {
	h := NewHub()
	conn := h.attach()
	h.detach(conn.id)
	assert.Equal(t, 0, h.ConnectionCount())

	_, open := <-conn.sendCh
	assert.False(t, open)

	// Detaching twice must not panic on a closed channel.
	h.detach(conn.id)
}

func TestHubBroadcastNeverBlocks(t *testing.T) {
	h := NewHub()
	conn := h.attach()

	// Saturate the connection buffer; further broadcasts drop instead of
	// stalling the transfer flow.
	for i := 0; i < 300; i++ {
		h.Broadcast(models.Message{Type: models.MsgTransferProgress})
	}

	done := make(chan struct{})
	go func() {
		h.Broadcast(models.Message{Type: models.MsgTransferProgress})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a slow connection")
	}
	_ = conn
}
