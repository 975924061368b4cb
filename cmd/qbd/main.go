// Command qbd is the quixbyte daemon: it loads configuration, restores
// persisted internal state, attaches the configured interfaces to a
// Master, serves the control socket the CLI talks to, and flushes state
// back to disk on shutdown. Grounded on cmd/musclefs/musclefs.go's
// process lifecycle (gops agent, signal-driven flush-then-exit,
// background periodic task).
package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/nicolagi/quixbyte/internal/archive"
	"github.com/nicolagi/quixbyte/internal/changemap"
	"github.com/nicolagi/quixbyte/internal/control"
	"github.com/nicolagi/quixbyte/internal/devicetable"
	"github.com/nicolagi/quixbyte/internal/filetable"
	"github.com/nicolagi/quixbyte/internal/filetree"
	"github.com/nicolagi/quixbyte/internal/fsprojection"
	"github.com/nicolagi/quixbyte/internal/ifacelocal"
	"github.com/nicolagi/quixbyte/internal/ifacetcp"
	"github.com/nicolagi/quixbyte/internal/ignore"
	"github.com/nicolagi/quixbyte/internal/master"
	"github.com/nicolagi/quixbyte/internal/netutil"
	"github.com/nicolagi/quixbyte/internal/qbcodec"
	"github.com/nicolagi/quixbyte/internal/qbconfig"
	"github.com/nicolagi/quixbyte/internal/qbhash"
	"github.com/nicolagi/quixbyte/internal/qbpath"
	"github.com/nicolagi/quixbyte/internal/qbtime"
	log "github.com/sirupsen/logrus"
)

// syncTickFrequency is how often the daemon initiates a sync round with
// every attached, initialized interface that has pending local changes.
const syncTickFrequency = 5 * time.Second

// daemon bundles everything main needs to reach from the signal-handling
// loop, the background sync tick, and the control socket's handlers.
type daemon struct {
	cfg *qbconfig.C
	log *log.Entry

	mu       sync.Mutex
	proj     *fsprojection.Projection
	devices  *devicetable.Table
	changes  *changemap.ChangeMap
	m        *master.Master
	recorder *qbtime.Recorder
	pending  *fsprojection.PendingPairs
	archive  archive.Store

	nextIfaceID uint64
	ifaces      map[uint64]ifaceRecord
}

// ifaceRecord is what the control protocol's List/Remove/Stop need to
// know about one attached interface: its Master-facing id (an opaque
// string) and a human-readable kind.
type ifaceRecord struct {
	id   master.InterfaceID
	kind string
}

// addIface records a newly attached interface under a fresh control-facing
// numeric id. Callers must hold d.mu.
func (d *daemon) addIface(id master.InterfaceID, kind string) uint64 {
	d.nextIfaceID++
	n := d.nextIfaceID
	d.ifaces[n] = ifaceRecord{id: id, kind: kind}
	return n
}

func statePaths(base string) map[string]string {
	dir := filepath.Join(base, ".qb")
	return map[string]string{
		"changemap": filepath.Join(dir, "changemap"),
		"devices":   filepath.Join(dir, "devices"),
		"filetree":  filepath.Join(dir, "filetree"),
		"filetable": filepath.Join(dir, "filetable"),
		"ignore":    filepath.Join(dir, "ignore"),
	}
}

// restoreState loads every persisted <root>/.qb/ file into d's
// components, leaving each at its zero-value default (per
// qbcodec.LoadOrDefault) the first time a device starts up.
func (d *daemon) restoreState() error {
	paths := statePaths(d.cfg.BaseDirectory())
	if err := os.MkdirAll(filepath.Dir(paths["changemap"]), 0o700); err != nil {
		return fmt.Errorf("qbd: creating state directory: %w", err)
	}

	var changesSnap changemap.Snapshot
	if err := qbcodec.LoadOrDefault(paths["changemap"], &changesSnap); err != nil {
		return err
	}
	d.changes.Restore(changesSnap)

	var devicesSnap devicetable.Snapshot
	if err := qbcodec.LoadOrDefault(paths["devices"], &devicesSnap); err != nil {
		return err
	}
	if devicesSnap.HostID != 0 {
		d.devices.Restore(devicesSnap)
	}

	var treeSnap filetree.Snapshot
	if err := qbcodec.LoadOrDefault(paths["filetree"], &treeSnap); err != nil {
		return err
	}
	if len(treeSnap.Nodes) > 0 {
		d.proj.Tree.Restore(treeSnap)
	}

	var tableSnap filetable.Snapshot
	if err := qbcodec.LoadOrDefault(paths["filetable"], &tableSnap); err != nil {
		return err
	}
	d.proj.Table.Restore(tableSnap)

	var ignoreSnap ignore.Snapshot
	if err := qbcodec.LoadOrDefault(paths["ignore"], &ignoreSnap); err != nil {
		return err
	}
	d.proj.Ignore.Restore(ignoreSnap)

	return nil
}

// saveState persists every component back to <root>/.qb/, called after
// every applied batch and on clean shutdown, then checkpoints the same
// snapshots to the configured archival store, if any.
func (d *daemon) saveState() error {
	d.proj.Lock()
	defer d.proj.Unlock()
	paths := statePaths(d.cfg.BaseDirectory())

	changesSnap := d.changes.Snapshot()
	devicesSnap := d.devices.Snapshot()
	treeSnap := d.proj.Tree.Snapshot()
	tableSnap := d.proj.Table.Snapshot()
	ignoreSnap := d.proj.Ignore.Snapshot()

	if err := qbcodec.Save(paths["changemap"], changesSnap); err != nil {
		return err
	}
	if err := qbcodec.Save(paths["devices"], devicesSnap); err != nil {
		return err
	}
	if err := qbcodec.Save(paths["filetree"], treeSnap); err != nil {
		return err
	}
	if err := qbcodec.Save(paths["filetable"], tableSnap); err != nil {
		return err
	}
	if err := qbcodec.Save(paths["ignore"], ignoreSnap); err != nil {
		return err
	}

	return d.archiveSnapshots(map[string]interface{}{
		"changemap": changesSnap,
		"devices":   devicesSnap,
		"filetree":  treeSnap,
		"filetable": tableSnap,
		"ignore":    ignoreSnap,
	})
}

// archiveSnapshots checkpoints each component's just-saved snapshot to
// d.archive, content-addressed by the qbhash of its gob encoding, so a
// device can recover earlier checkpoints the single live .qb/ file has
// since overwritten. A NullStore (the default, no Storage configured)
// makes this a no-op.
func (d *daemon) archiveSnapshots(snapshots map[string]interface{}) error {
	for component, snap := range snapshots {
		var buf bytes.Buffer
		if err := qbcodec.Encode(&buf, snap); err != nil {
			return fmt.Errorf("qbd: encoding %s for archival: %w", component, err)
		}
		h := qbhash.Compute(buf.Bytes())
		key := archive.Key(fmt.Sprintf("%s-%s", component, h.Hex()))
		if err := d.archive.Put(key, buf.Bytes()); err != nil {
			return fmt.Errorf("qbd: archiving %s checkpoint: %w", component, err)
		}
	}
	return nil
}

func main() {
	if err := agent.Listen(agent.Options{}); err != nil {
		log.Printf("Could not start gops agent: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	base := flag.String("base", qbconfig.DefaultBaseDirectoryPath, "base directory for configuration and internal state")
	logLevel := flag.String("verbosity", "warning", "log level")
	flag.Parse()

	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.JSONFormatter{})
	ll, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Could not parse log level %q: %v", *logLevel, err)
	}
	log.SetLevel(ll)

	cfg, err := qbconfig.Load(*base)
	if err != nil {
		log.Fatalf("Could not load config from %q: %v", *base, err)
	}

	entry := log.WithField("device", cfg.DeviceID.String())

	devices := devicetable.New(cfg.DeviceID)
	changes := changemap.New()
	proj := fsprojection.New(cfg.SyncRoot, devices, entry)
	m := master.New(cfg.DeviceID, devices, changes, entry)
	recorder := qbtime.NewRecorder(cfg.DeviceID)

	archiveStore, err := archive.NewStore(cfg)
	if err != nil {
		log.Fatalf("Could not build archival store: %v", err)
	}

	d := &daemon{
		cfg: cfg, log: entry,
		proj: proj, devices: devices, changes: changes, m: m, recorder: recorder,
		pending: fsprojection.NewPendingPairs(),
		archive: archiveStore,
		ifaces:  make(map[uint64]ifaceRecord),
	}
	if err := d.restoreState(); err != nil {
		log.Fatalf("Could not restore internal state: %v", err)
	}
	// proj.Changes must be the very same pointer the Master reads from and
	// advances, so a local watcher's direct mutation and the Master's
	// Sync() agree on what has accumulated.
	proj.Changes = changes

	if err := os.MkdirAll(cfg.SyncRoot, 0o755); err != nil {
		log.Fatalf("Could not create sync root %q: %v", cfg.SyncRoot, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := ifacelocal.New(proj, recorder, entry.WithField("interface", "local"))
	if err := d.m.Attach("local", watcher); err != nil {
		log.Fatalf("Could not attach local watcher: %v", err)
	}
	d.mu.Lock()
	d.addIface("local", "local")
	d.mu.Unlock()

	if cfg.TCPListenNet != "" && cfg.TCPListenAddr != "" {
		var tlsConfig *tls.Config
		if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
			if err != nil {
				log.Fatalf("Could not load TLS certificate: %v", err)
			}
			tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		}
		server := ifacetcp.NewServer(cfg.TCPListenNet, cfg.TCPListenAddr, tlsConfig, cfg.AuthToken, cfg.DeviceID, cfg.DeviceName, entry.WithField("interface", "tcp-server"))
		go func() {
			if err := server.ListenAndServe(ctx, d.m, d.nextInterfaceID); err != nil && ctx.Err() == nil {
				entry.WithError(err).Error("qbd: tcp server stopped")
			}
		}()
	}

	if cfg.ControlNet == "" || cfg.ControlAddr == "" {
		log.Fatal("qbd: control socket not configured")
	}
	controlLn, err := netutil.Listen(cfg.ControlNet, cfg.ControlAddr)
	if err != nil {
		log.Fatalf("Could not listen on control socket %s %s: %v", cfg.ControlNet, cfg.ControlAddr, err)
	}
	go d.serveControl(ctx, controlLn)

	go func() {
		for {
			select {
			case <-time.After(syncTickFrequency):
				d.mu.Lock()
				d.m.CleanHandles()
				d.m.Sync()
				d.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		for {
			id, msg, err := d.m.Read(ctx)
			if err != nil {
				return
			}
			d.mu.Lock()
			d.m.Process(id, msg, d.applyRemoteBatch)
			if err := d.saveState(); err != nil {
				entry.WithError(err).Warn("qbd: failed to persist state after applying batch")
			}
			d.mu.Unlock()
		}
	}()

	entry.Info("qbd: awaiting a signal to flush and exit")
	for sig := range sigc {
		entry.WithField("signal", sig.String()).Info("qbd: got signal, flushing before exiting")
		cancel()
		_ = controlLn.Close()
		d.mu.Lock()
		err := d.saveState()
		d.mu.Unlock()
		if err != nil {
			entry.WithError(err).Error("qbd: flush failed")
			continue
		}
		entry.Info("qbd: flushed, quitting")
		break
	}
	agent.Close()
}

// applyRemoteBatch is the Master.Process callback that realizes a
// received sync round's changes against the filesystem, resolving
// rename/copy pairing across calls via d.pending.
func (d *daemon) applyRemoteBatch(_ master.InterfaceID, byResource map[qbpath.Resource][]changemap.Change) {
	d.proj.ApplyBatch(byResource, d.pending)
}

// nextInterfaceID is passed to ifacetcp.Server.ListenAndServe to name each
// inbound peer connection as it is accepted, registering it for control
// listing in the same step since the server attaches it to the Master
// directly rather than going through attach.
func (d *daemon) nextInterfaceID() master.InterfaceID {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.nextIfaceID + 1
	id := master.InterfaceID(fmt.Sprintf("tcp-peer-%d", n))
	d.addIface(id, "tcp-server-peer")
	return id
}

func (d *daemon) serveControl(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.WithError(err).Warn("qbd: control accept failed")
			continue
		}
		go d.handleControl(conn)
	}
}

func (d *daemon) handleControl(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)
	req, err := control.ReadRequest(r)
	if err != nil {
		return
	}
	resp := d.dispatch(req)
	_ = control.WriteResponse(conn, resp)
}

func (d *daemon) dispatch(req control.Request) control.Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch req.Kind {
	case control.ReqList:
		entries := make([]control.Entry, 0, len(d.ifaces))
		for n, rec := range d.ifaces {
			entries = append(entries, control.Entry{ID: n, Kind: rec.kind, Attached: true})
		}
		return control.Response{Kind: control.RespList, Entries: entries}

	case control.ReqAdd:
		spec, err := control.DecodeAttachSpec(req.Blob)
		if err != nil {
			return control.Response{Kind: control.RespError, Message: err.Error()}
		}
		if err := d.attach(req.Name, spec); err != nil {
			return control.Response{Kind: control.RespError, Message: err.Error()}
		}
		return control.Response{Kind: control.RespSuccess}

	case control.ReqRemove, control.ReqStop:
		rec, ok := d.ifaces[req.ID]
		if !ok {
			return control.Response{Kind: control.RespError, Message: fmt.Sprintf("qbd: no interface with id %016x", req.ID)}
		}
		d.m.Detach(rec.id)
		delete(d.ifaces, req.ID)
		return control.Response{Kind: control.RespSuccess}

	case control.ReqStart:
		// Interfaces attach already running; Start is a no-op, kept for
		// the control protocol's symmetry with Stop/Remove.
		return control.Response{Kind: control.RespSuccess}

	default:
		return control.Response{Kind: control.RespError, Message: "qbd: unknown request kind"}
	}
}

// attach must be called with d.mu held.
func (d *daemon) attach(name string, spec control.AttachSpec) error {
	entry := d.log.WithField("interface", name)
	id := master.InterfaceID(name)
	switch spec.Kind {
	case "tcp-client":
		var tlsConfig *tls.Config
		if spec.UseTLS {
			tlsConfig = &tls.Config{}
		}
		client := ifacetcp.NewClient(spec.Network, spec.Address, tlsConfig, d.cfg.DeviceID, d.cfg.DeviceName, spec.AuthToken, entry)
		if err := d.m.Attach(id, client); err != nil {
			return err
		}
		d.addIface(id, "tcp-client")
		return nil
	default:
		return fmt.Errorf("qbd: unsupported interface kind %q", spec.Kind)
	}
}
