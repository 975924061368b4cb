package master_test

import (
	"context"
	"testing"
	"time"

	"github.com/nicolagi/quixbyte/internal/changemap"
	"github.com/nicolagi/quixbyte/internal/devicetable"
	"github.com/nicolagi/quixbyte/internal/master"
	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/nicolagi/quixbyte/internal/qbtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInterface feeds a fixed sequence of inbound messages and then blocks
// until canceled, mimicking a connected peer.
type fakeInterface struct {
	inbound []master.Message
}

func (f *fakeInterface) Run(ctx context.Context, outbound <-chan master.Message, recv chan<- master.Message) error {
	for _, m := range f.inbound {
		recv <- m
	}
	for {
		select {
		case <-outbound:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func TestAttachRejectsDuplicateID(t *testing.T) {
	devices := devicetable.New(1)
	m := master.New(1, devices, changemap.New(), nil)
	require.NoError(t, m.Attach("peer", &fakeInterface{}))
	assert.Error(t, m.Attach("peer", &fakeInterface{}))
	m.Detach("peer")
}

func TestProcessSyncMergesRemoteDelta(t *testing.T) {
	devices := devicetable.New(1)
	changes := changemap.New()
	m := master.New(1, devices, changes, nil)

	require.NoError(t, m.Attach("peer", &fakeInterface{}))
	defer m.Detach("peer")

	path, err := qbpath.New("a.txt")
	require.NoError(t, err)
	resource := qbpath.NewFile(path)

	var applied map[qbpath.Resource][]changemap.Change
	msg := master.Message{
		Kind:     master.MsgSync,
		Common:   qbtime.Timestamp{},
		DeviceID: 2,
		Changes: map[qbpath.Resource][]changemap.Change{
			resource: {{Timestamp: qbtime.Timestamp{Millis: 10, DeviceID: 2}, Kind: changemap.Create}},
		},
	}
	m.Process("peer", msg, func(id master.InterfaceID, delta map[qbpath.Resource][]changemap.Change) {
		applied = delta
	})

	require.Len(t, applied[resource], 1)
	assert.Equal(t, changemap.Create, applied[resource][0].Kind)
	assert.Equal(t, qbtime.Timestamp{Millis: 10, DeviceID: 2}, devices.Common(2))
}

func TestReadDeliversInboundMessage(t *testing.T) {
	devices := devicetable.New(1)
	m := master.New(1, devices, changemap.New(), nil)

	iface := &fakeInterface{inbound: []master.Message{{Kind: master.MsgCommon, DeviceID: 2}}}
	require.NoError(t, m.Attach("peer", iface))
	defer m.Detach("peer")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, msg, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, master.InterfaceID("peer"), id)
	assert.Equal(t, master.MsgCommon, msg.Kind)
}
