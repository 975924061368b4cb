// Package devicetable tracks, for every peer device a Master has ever
// synchronized with, the last point of agreed history ("common") and a
// human-readable name, grounded on qb-core/src/common/device.rs's
// QBDeviceTable.
package devicetable

import (
	"sync"

	"github.com/nicolagi/quixbyte/internal/qbtime"
)

const unnamed = "untitled"

// Table is safe for concurrent use: the Master and every attached
// interface goroutine consult it.
type Table struct {
	mu      sync.Mutex
	hostID  qbtime.DeviceID
	commons map[qbtime.DeviceID]qbtime.Timestamp
	names   map[qbtime.DeviceID]string
}

// New returns a Table for the local device identified by hostID.
func New(hostID qbtime.DeviceID) *Table {
	return &Table{
		hostID:  hostID,
		commons: make(map[qbtime.DeviceID]qbtime.Timestamp),
		names:   make(map[qbtime.DeviceID]string),
	}
}

// HostID returns the local device's own id.
func (t *Table) HostID() qbtime.DeviceID {
	return t.hostID
}

// Common returns the last agreed-on timestamp with device, or the zero
// Timestamp (equivalent to the changelog base) if the two have never
// synchronized.
func (t *Table) Common(device qbtime.DeviceID) qbtime.Timestamp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commons[device]
}

// SetCommon records the new agreed-on timestamp with device.
func (t *Table) SetCommon(device qbtime.DeviceID, ts qbtime.Timestamp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commons[device] = ts
}

// Name returns the display name recorded for device, or "untitled" if
// none has been set.
func (t *Table) Name(device qbtime.DeviceID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name, ok := t.names[device]; ok {
		return name
	}
	return unnamed
}

// SetName records a display name for device.
func (t *Table) SetName(device qbtime.DeviceID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.names[device] = name
}

// Snapshot is the serializable view of a Table, used by the binary codec
// in internal/qbcodec.
type Snapshot struct {
	HostID  qbtime.DeviceID
	Commons map[qbtime.DeviceID]qbtime.Timestamp
	Names   map[qbtime.DeviceID]string
}

// Snapshot copies the table's state out for persistence.
func (t *Table) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		HostID:  t.hostID,
		Commons: make(map[qbtime.DeviceID]qbtime.Timestamp, len(t.commons)),
		Names:   make(map[qbtime.DeviceID]string, len(t.names)),
	}
	for k, v := range t.commons {
		s.Commons[k] = v
	}
	for k, v := range t.names {
		s.Names[k] = v
	}
	return s
}

// Restore replaces the table's state with a previously taken Snapshot.
func (t *Table) Restore(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hostID = s.HostID
	t.commons = make(map[qbtime.DeviceID]qbtime.Timestamp, len(s.Commons))
	for k, v := range s.Commons {
		t.commons[k] = v
	}
	t.names = make(map[qbtime.DeviceID]string, len(s.Names))
	for k, v := range s.Names {
		t.names[k] = v
	}
}
