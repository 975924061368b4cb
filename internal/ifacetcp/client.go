package ifacetcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/nicolagi/quixbyte/internal/master"
	"github.com/nicolagi/quixbyte/internal/qbtime"
	"github.com/nicolagi/quixbyte/internal/wire"
	"github.com/sirupsen/logrus"
)

// Client dials a remote peer and proxies Messages to and from the
// Master, matching qbi-tcp/src/client.rs.
type Client struct {
	Network    string
	Address    string
	TLSConfig  *tls.Config // nil dials a plain TCP connection
	HostID     qbtime.DeviceID
	DeviceName string
	AuthToken  string // sent right after the handshake if non-empty

	log *logrus.Entry
}

// NewClient returns a Client that dials address over network, optionally
// wrapped in TLS.
func NewClient(network, address string, tlsConfig *tls.Config, hostID qbtime.DeviceID, deviceName, authToken string, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		Network:    network,
		Address:    address,
		TLSConfig:  tlsConfig,
		HostID:     hostID,
		DeviceName: deviceName,
		AuthToken:  authToken,
		log:        log,
	}
}

// Run implements master.Interface: dial, perform the QBP handshake,
// announce this device, then relay Messages until ctx is canceled or the
// connection fails.
func (c *Client) Run(ctx context.Context, outbound <-chan master.Message, recv chan<- master.Message) error {
	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if c.TLSConfig != nil {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: c.TLSConfig}).DialContext(ctx, c.Network, c.Address)
	} else {
		conn, err = dialer.DialContext(ctx, c.Network, c.Address)
	}
	if err != nil {
		return fmt.Errorf("ifacetcp: dial %s %s: %w", c.Network, c.Address, err)
	}
	defer func() { _ = conn.Close() }()

	if err := wire.WriteHeader(conn, wire.DefaultHeader()); err != nil {
		return fmt.Errorf("ifacetcp: client handshake write: %w", err)
	}
	peerHeader, err := wire.ReadHeader(conn)
	if err != nil {
		return fmt.Errorf("ifacetcp: client handshake read: %w", err)
	}
	ct := wire.Negotiate(peerHeader.Fields["accept"])
	wc := wire.NewConn(conn, ct)

	if c.AuthToken != "" {
		if err := wc.WriteFrame([]byte(c.AuthToken)); err != nil {
			return fmt.Errorf("ifacetcp: sending auth token: %w", err)
		}
	}

	announce, err := encodeMessage(master.Message{Kind: master.MsgDevice, DeviceID: c.HostID, Name: c.DeviceName}, ct)
	if err != nil {
		return err
	}
	if err := wc.WriteFrame(announce); err != nil {
		return fmt.Errorf("ifacetcp: sending device announcement: %w", err)
	}

	s := &session{conn: wc, ct: ct, log: c.log}
	return s.run(ctx, outbound, recv)
}
