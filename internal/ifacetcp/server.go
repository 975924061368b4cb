package ifacetcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/nicolagi/quixbyte/internal/master"
	"github.com/nicolagi/quixbyte/internal/netutil"
	"github.com/nicolagi/quixbyte/internal/qbtime"
	"github.com/nicolagi/quixbyte/internal/wire"
	"github.com/sirupsen/logrus"
)

// Server accepts incoming peer connections and attaches each one to a
// Master as its own interface, matching qbi-tcp/src/server.rs. Unlike
// Client, a Server connection additionally verifies a pre-shared auth
// token sent right after the handshake before it is trusted.
type Server struct {
	Network    string
	Address    string
	TLSConfig  *tls.Config // nil serves plain TCP
	AuthToken  string      // empty disables the token check
	HostID     qbtime.DeviceID
	DeviceName string

	log *logrus.Entry
}

// NewServer returns a Server listening on network/address.
func NewServer(network, address string, tlsConfig *tls.Config, authToken string, hostID qbtime.DeviceID, deviceName string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		Network:    network,
		Address:    address,
		TLSConfig:  tlsConfig,
		AuthToken:  authToken,
		HostID:     hostID,
		DeviceName: deviceName,
		log:        log,
	}
}

// Attacher is the subset of *master.Master that ListenAndServe needs,
// kept as an interface so tests can supply a fake.
type Attacher interface {
	Attach(id master.InterfaceID, iface master.Interface) error
}

// ListenAndServe accepts connections until ctx is canceled, attaching
// each accepted connection to m under an id produced by nextID.
func (s *Server) ListenAndServe(ctx context.Context, m Attacher, nextID func() master.InterfaceID) error {
	ln, err := netutil.Listen(s.Network, s.Address)
	if err != nil {
		return fmt.Errorf("ifacetcp: listen %s %s: %w", s.Network, s.Address, err)
	}
	if s.TLSConfig != nil {
		ln = tls.NewListener(ln, s.TLSConfig)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ifacetcp: accept: %w", err)
		}
		iface := &accepted{conn: conn, server: s}
		id := nextID()
		if err := m.Attach(id, iface); err != nil {
			s.log.WithField("interface", id).WithError(err).Warn("ifacetcp: attach failed, closing connection")
			_ = conn.Close()
		}
	}
}

// accepted is one server-side connection, implementing master.Interface.
type accepted struct {
	conn   net.Conn
	server *Server
}

var errAuthMismatch = errors.New("ifacetcp: auth token mismatch")

func (a *accepted) Run(ctx context.Context, outbound <-chan master.Message, recv chan<- master.Message) error {
	defer func() { _ = a.conn.Close() }()

	peerHeader, err := wire.ReadHeader(a.conn)
	if err != nil {
		return fmt.Errorf("ifacetcp: server handshake read: %w", err)
	}
	if err := wire.WriteHeader(a.conn, wire.DefaultHeader()); err != nil {
		return fmt.Errorf("ifacetcp: server handshake write: %w", err)
	}
	ct := wire.Negotiate(peerHeader.Fields["accept"])
	wc := wire.NewConn(a.conn, ct)

	if a.server.AuthToken != "" {
		token, err := wc.ReadFrame()
		if err != nil {
			return fmt.Errorf("ifacetcp: reading auth token: %w", err)
		}
		if string(token) != a.server.AuthToken {
			return errAuthMismatch
		}
	}

	s := &session{conn: wc, ct: ct, log: a.server.log}
	return s.run(ctx, outbound, recv)
}
