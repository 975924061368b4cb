package ifacetcp_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nicolagi/quixbyte/internal/ifacetcp"
	"github.com/nicolagi/quixbyte/internal/master"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackListener(t *testing.T) (net.Listener, error) {
	t.Helper()
	return net.Listen("tcp", "127.0.0.1:0")
}

// fakeAttacher captures attached interfaces without running them,
// standing in for master.Master in tests that only need the Attach half
// of its contract.
type fakeAttacher struct {
	mu       sync.Mutex
	attached map[master.InterfaceID]master.Interface
}

func newFakeAttacher() *fakeAttacher {
	return &fakeAttacher{attached: make(map[master.InterfaceID]master.Interface)}
}

func (f *fakeAttacher) Attach(id master.InterfaceID, iface master.Interface) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[id] = iface
	return nil
}

func TestClientServerDeviceAnnouncement(t *testing.T) {
	server := ifacetcp.NewServer("tcp", "127.0.0.1:0", nil, "", 1, "host", nil)

	ln, err := newLoopbackListener(t)
	require.NoError(t, err)
	server.Address = ln.Addr().String()
	_ = ln.Close() // release the port; ListenAndServe rebinds it

	attacher := newFakeAttacher()
	recv := make(chan master.Message, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe(ctx, attacher, func() master.InterfaceID { return "peer" })
	}()

	require.Eventually(t, func() bool {
		attacher.mu.Lock()
		defer attacher.mu.Unlock()
		return attacher.attached["peer"] != nil
	}, 2*time.Second, 10*time.Millisecond, "server never accepted a connection")

	// Kick the accepted connection's own Run loop since fakeAttacher does
	// not start it automatically.
	attacher.mu.Lock()
	accepted := attacher.attached["peer"]
	attacher.mu.Unlock()
	acceptedOutbound := make(chan master.Message)
	go func() { _ = accepted.Run(ctx, acceptedOutbound, recv) }()

	client := ifacetcp.NewClient("tcp", server.Address, nil, 2, "guest", "", nil)
	clientOutbound := make(chan master.Message)
	clientRecv := make(chan master.Message, 4)
	go func() { _ = client.Run(ctx, clientOutbound, clientRecv) }()

	select {
	case msg := <-recv:
		assert.Equal(t, master.MsgDevice, msg.Kind)
		assert.Equal(t, "guest", msg.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the client's device announcement")
	}
}
