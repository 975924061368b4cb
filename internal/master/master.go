// Package master implements the orchestrator that owns every attached
// interface, routes synchronization messages between them, and runs the
// single cancellation-safe receive loop a quixbyte daemon drives,
// grounded on qb-daemon/src/master.rs's QBMaster.
package master

import (
	"context"
	"fmt"
	"sync"

	"github.com/nicolagi/quixbyte/internal/changemap"
	"github.com/nicolagi/quixbyte/internal/devicetable"
	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/nicolagi/quixbyte/internal/qbtime"
	"github.com/sirupsen/logrus"
)

// InterfaceID names one attached interface (a local watcher, a TCP
// client, a TCP server-accepted connection, ...).
type InterfaceID string

// MessageKind tags the payload carried by a Message.
type MessageKind uint8

const (
	// MsgCommon announces (or re-announces) the sender's common point
	// with its peer, sent right after attaching.
	MsgCommon MessageKind = iota
	// MsgSync carries a synchronization round: the sender's common point
	// and the changes it believes the peer needs.
	MsgSync
	// MsgBroadcast is fanned out by the Master to every other attached
	// interface, used for presence/name announcements.
	MsgBroadcast
	// MsgDevice announces the sender's device id and display name.
	MsgDevice
	// MsgStop asks an interface's task to shut down.
	MsgStop
)

// Message is what flows between the Master and an attached interface.
type Message struct {
	Kind MessageKind

	Common  qbtime.Timestamp
	Changes map[qbpath.Resource][]changemap.Change

	DeviceID qbtime.DeviceID
	Name     string

	Broadcast *Message // payload for MsgBroadcast
}

// Interface is what an attachment must provide: a run loop the Master
// starts as a goroutine, fed the Master's outbound queue for this
// attachment and forwarding whatever it receives from its transport into
// recv.
type Interface interface {
	// Run drives the interface until ctx is canceled or it encounters a
	// fatal I/O/protocol error. outbound carries Messages the Master wants
	// delivered to this interface's peer; recv carries Messages the
	// interface received from its peer, for the Master to Process.
	Run(ctx context.Context, outbound <-chan Message, recv chan<- Message) error
}

// handle is everything the Master tracks per attached interface,
// grounded on QBIHandle (join_handle, abort_handle, tx, syncing, init).
type handle struct {
	cancel  context.CancelFunc
	tx      chan Message
	done    chan error
	syncing bool
	init    bool
}

// Master owns the set of attached interfaces and the ChangeMap state
// shared across a synchronization round. The handle set is guarded by an
// internal mutex, so Attach, Detach, CleanHandles, Sync and Send may be
// called from any goroutine. Process reads and writes a handle's
// syncing/init flags without that mutex, so callers must not run Process
// concurrently with Sync (cmd/qbd holds its own lock around both).
type Master struct {
	log *logrus.Entry

	hostID  qbtime.DeviceID
	devices *devicetable.Table
	changes *changemap.ChangeMap

	mu      sync.Mutex
	handles map[InterfaceID]*handle

	recv chan recvResult
}

type recvResult struct {
	id  InterfaceID
	msg Message
	err error
}

// New returns a Master for the local device hostID.
func New(hostID qbtime.DeviceID, devices *devicetable.Table, changes *changemap.ChangeMap, log *logrus.Entry) *Master {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Master{
		log:     log,
		hostID:  hostID,
		devices: devices,
		changes: changes,
		handles: make(map[InterfaceID]*handle),
		recv:    make(chan recvResult, 32),
	}
}

// Attach starts iface under id, rejecting the call if id is already
// attached. The interface's Run method is driven on its own goroutine; a
// second, long-lived goroutine per interface forwards every Message Run
// sends on its recv channel into the Master's shared receive channel, so
// a slow or silent interface never blocks delivery from the others, and
// Read can be abandoned via its ctx without losing a message.
func (m *Master) Attach(id InterfaceID, iface Interface) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.handles[id]; exists {
		return fmt.Errorf("master: Attach: %s already attached", id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		cancel: cancel,
		tx:     make(chan Message, 32),
		done:   make(chan error, 1),
	}
	m.handles[id] = h

	ibound := make(chan Message, 32)
	go func() {
		h.done <- iface.Run(ctx, h.tx, ibound)
		close(ibound)
	}()
	go func() {
		for msg := range ibound {
			m.recv <- recvResult{id: id, msg: msg}
		}
	}()

	return nil
}

// Detach asks the interface under id to stop and removes its handle.
func (m *Master) Detach(id InterfaceID) {
	m.mu.Lock()
	h, ok := m.handles[id]
	if ok {
		delete(m.handles, id)
	}
	m.mu.Unlock()
	if ok {
		h.cancel()
	}
}

// CleanHandles removes any handle whose Run goroutine has already
// finished, logging the reason, mirroring QBMaster::clean_handles.
func (m *Master) CleanHandles() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.handles {
		select {
		case err := <-h.done:
			if err != nil {
				m.log.WithField("interface", id).WithError(err).Warn("master: interface task ended")
			}
			delete(m.handles, id)
		default:
		}
	}
}

// Read blocks until a Message arrives from any attached interface, or ctx
// is canceled.
func (m *Master) Read(ctx context.Context) (InterfaceID, Message, error) {
	select {
	case r := <-m.recv:
		return r.id, r.msg, r.err
	case <-ctx.Done():
		return "", Message{}, ctx.Err()
	}
}

// Process handles one Message received from id, mutating the shared
// ChangeMap and Device Table and replying or broadcasting as needed. It
// is the direct port of QBMaster::process.
func (m *Master) Process(id InterfaceID, msg Message, apply func(InterfaceID, map[qbpath.Resource][]changemap.Change)) {
	m.mu.Lock()
	h, ok := m.handles[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	switch msg.Kind {
	case MsgCommon:
		h.init = true
		m.devices.SetCommon(msg.DeviceID, msg.Common)

	case MsgDevice:
		h.init = true
		m.devices.SetName(msg.DeviceID, msg.Name)

	case MsgSync:
		expected := m.devices.Common(msg.DeviceID)
		if expected != msg.Common {
			m.log.WithFields(logrus.Fields{"interface": id, "expected": expected, "got": msg.Common}).
				Warn("master: sync rejected: common point mismatch")
			return
		}

		local := m.changes.Since(expected)
		remoteDelta := changemap.New()
		for resource, changes := range msg.Changes {
			for _, c := range changes {
				remoteDelta.Push(resource, false, c)
			}
		}
		delta := local.Merge(remoteDelta)

		deltaByResource := make(map[qbpath.Resource][]changemap.Change)
		for _, resource := range delta.Resources() {
			cs := delta.Changes(resource)
			if len(cs) == 0 {
				continue
			}
			deltaByResource[resource] = cs
			for _, c := range cs {
				m.changes.Push(resource, false, c)
			}
		}

		if apply != nil && len(deltaByResource) > 0 {
			apply(id, deltaByResource)
		}

		newCommon := m.changes.Head()
		m.devices.SetCommon(msg.DeviceID, newCommon)

		if !h.syncing {
			select {
			case h.tx <- Message{Kind: MsgSync, Common: msg.Common, Changes: toWire(local)}:
			default:
				m.log.WithField("interface", id).Warn("master: sync reply dropped: outbound channel full")
			}
		}
		h.syncing = false

	case MsgBroadcast:
		m.mu.Lock()
		for otherID, other := range m.handles {
			if otherID == id {
				continue
			}
			select {
			case other.tx <- *msg.Broadcast:
			default:
				m.log.WithField("interface", otherID).Warn("master: broadcast dropped: outbound channel full")
			}
		}
		m.mu.Unlock()
	}
}

func toWire(m *changemap.ChangeMap) map[qbpath.Resource][]changemap.Change {
	out := make(map[qbpath.Resource][]changemap.Change)
	for _, r := range m.Resources() {
		for _, e := range m.Entries(r) {
			out[r] = append(out[r], e.Change)
		}
	}
	return out
}

// Sync initiates a synchronization round with every attached, initialized
// interface that is not already mid-round and has new changes to offer,
// mirroring QBMaster::sync.
func (m *Master) Sync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.handles {
		if !h.init || h.syncing {
			continue
		}
		common := m.devices.Common(m.hostID)
		delta := m.changes.Since(common)
		if len(delta.Resources()) == 0 {
			continue
		}
		h.syncing = true
		select {
		case h.tx <- Message{Kind: MsgSync, Common: common, Changes: toWire(delta)}:
		default:
			m.log.WithField("interface", id).Warn("master: sync dropped: outbound channel full")
			h.syncing = false
		}
	}
}

// Send enqueues msg for delivery to the interface under id. It returns
// false if id is not attached or its outbound channel is full.
func (m *Master) Send(id InterfaceID, msg Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	if !ok {
		return false
	}
	select {
	case h.tx <- msg:
		return true
	default:
		return false
	}
}

// Outbound returns the channel an attached interface's Run loop should
// select on for messages the Master wants delivered to its peer.
func (m *Master) Outbound(id InterfaceID) (<-chan Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	if !ok {
		return nil, false
	}
	return h.tx, true
}
