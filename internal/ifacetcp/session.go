// Package ifacetcp implements the TLS-over-TCP proxy interface: a thin
// relay that reads framed Messages off a stream and forwards them to the
// Master, and reads Messages the Master wants delivered and writes them
// to the stream, grounded on qbi-tcp/src/{client,server}.rs.
package ifacetcp

import (
	"context"
	"fmt"

	"github.com/nicolagi/quixbyte/internal/master"
	"github.com/nicolagi/quixbyte/internal/wire"
	"github.com/sirupsen/logrus"
)

// session is the Run loop shared by the client and server-accepted
// variants once a wire.Conn and negotiated ContentType are established.
type session struct {
	conn *wire.Conn
	ct   wire.ContentType
	log  *logrus.Entry
}

func (s *session) run(ctx context.Context, outbound <-chan master.Message, recv chan<- master.Message) error {
	inbound := make(chan master.Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			payload, err := s.conn.ReadFrame()
			if err != nil {
				readErr <- err
				return
			}
			msg, err := decodeMessage(payload, s.ct)
			if err != nil {
				s.log.WithError(err).Warn("ifacetcp: dropping malformed frame")
				continue
			}
			select {
			case inbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case msg := <-inbound:
			select {
			case recv <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}

		case msg, ok := <-outbound:
			if !ok {
				return nil
			}
			if msg.Kind == master.MsgStop {
				return nil
			}
			payload, err := encodeMessage(msg, s.ct)
			if err != nil {
				return fmt.Errorf("ifacetcp: encoding outbound message: %w", err)
			}
			if err := s.conn.WriteFrame(payload); err != nil {
				return fmt.Errorf("ifacetcp: writing outbound frame: %w", err)
			}

		case err := <-readErr:
			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
