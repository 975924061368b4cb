// Package qbtime implements the unique, totally-ordered timestamps that
// quixbyte attaches to every change: a millisecond wall-clock reading
// paired with the originating device id, so that changes from different
// devices in the same millisecond still compare unequal and consistently.
package qbtime

import "fmt"

// DeviceID identifies a device participating in synchronization. It is
// generated once per device and persisted; it never changes for the
// lifetime of the device's local state.
type DeviceID uint64

// String renders the device id as lowercase hex, matching the control and
// wire protocols' convention for 64-bit ids (see internal/control).
func (d DeviceID) String() string {
	return fmt.Sprintf("%016x", uint64(d))
}

// Timestamp is a point in time unique across all devices: the millisecond
// component orders changes that happened at different times, and the
// device id breaks ties between changes recorded in the same millisecond
// by different devices. It does NOT establish causality between devices -
// it only guarantees two changes never compare equal unless they are the
// same change.
type Timestamp struct {
	Millis   uint64
	DeviceID DeviceID
}

// Compare returns -1, 0 or 1 as t sorts before, equal to, or after other.
// Millis is compared first; DeviceID is the tie-breaker. Two timestamps
// from the same device can only be equal if they are literally the same
// recorded instant, which Recorder guarantees never happens twice.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Millis < other.Millis:
		return -1
	case t.Millis > other.Millis:
		return 1
	case t.DeviceID < other.DeviceID:
		return -1
	case t.DeviceID > other.DeviceID:
		return 1
	default:
		return 0
	}
}

// Before reports whether t sorts strictly before other.
func (t Timestamp) Before(other Timestamp) bool {
	return t.Compare(other) < 0
}

// IsZero reports whether t is the zero value.
func (t Timestamp) IsZero() bool {
	return t.Millis == 0 && t.DeviceID == 0
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d@%s", t.Millis, t.DeviceID)
}

// NowMillisFunc is the wall-clock source, overridable in tests so that
// Recorder's behavior does not depend on real time passing.
var NowMillisFunc = defaultNowMillis

// Recorder issues strictly increasing Timestamps for one device. Within
// the same millisecond it advances a local counter past the wall clock so
// that a burst of changes recorded in one tick still sort in the order
// they were recorded, matching qb-core/src/time.rs's
// QBTimeStampRecorder.
type Recorder struct {
	deviceID DeviceID
	nextMin  uint64
}

// NewRecorder returns a Recorder that stamps changes as originating from
// deviceID.
func NewRecorder(deviceID DeviceID) *Recorder {
	return &Recorder{deviceID: deviceID}
}

// Record returns a new Timestamp, guaranteed to be strictly greater than
// every Timestamp previously returned by this Recorder.
func (r *Recorder) Record() Timestamp {
	now := NowMillisFunc()
	if now < r.nextMin {
		now = r.nextMin
	}
	r.nextMin = now + 1
	return Timestamp{Millis: now, DeviceID: r.deviceID}
}
