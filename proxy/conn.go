package proxy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nwiizo/pgveil/anonymize"
	"github.com/nwiizo/pgveil/logging"
	"github.com/nwiizo/pgveil/metrics"
	"github.com/nwiizo/pgveil/rules"
	"github.com/nwiizo/pgveil/wire"
)

// conn manages bidirectional relay for a single client connection: the
// startup/auth handshake is relayed as raw bytes, then two goroutines
// drive the framed codec in each direction.
type conn struct {
	id       string
	logger   zerolog.Logger
	maxFrame int // 0 means wire.MaxFrameSize

	clientConn   net.Conn
	upstreamConn net.Conn

	outbound anonymize.Interceptor // client -> upstream
	inbound  *anonymize.Anonymizer // upstream -> client
}

func newConn(id string, clientConn, upstreamConn net.Conn, maxFrame int, ruleList []rules.MaskingRule, tables rules.TableNames, reg *metrics.Registry, logger zerolog.Logger) *conn {
	var counter anonymize.MaskedCellCounter
	if reg != nil {
		counter = reg
	}
	return &conn{
		id:           id,
		logger:       logger,
		maxFrame:     maxFrame,
		clientConn:   clientConn,
		upstreamConn: upstreamConn,
		outbound:     anonymize.PassThrough{},
		inbound:      anonymize.New(ruleList, tables, counter),
	}
}

// relay handles the startup phase and then enters bidirectional framed
// relay, tearing down both sides as soon as either direction exits.
func (c *conn) relay(ctx context.Context) error {
	defer func() {
		_ = c.clientConn.Close()
		_ = c.upstreamConn.Close()
	}()

	if err := c.relayStartup(); err != nil {
		return fmt.Errorf("proxy: startup: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- c.relayClientToUpstream(ctx) }()
	go func() { errCh <- c.relayUpstreamToClient(ctx) }()

	err := <-errCh
	_ = c.clientConn.Close()
	_ = c.upstreamConn.Close()
	<-errCh

	return err
}

const (
	sslRequestCode    = 80877103
	gssEncRequestCode = 80877104

	authTypeOk        = 0
	authTypeSASLFinal = 12
)

// relayStartup declines SSLRequest/GSSEncRequest with 'N' itself, then
// relays the startup message and the authentication exchange as raw
// bytes, leaving SCRAM and other mechanisms untouched. The framed codec only takes over once the
// upstream sends ReadyForQuery.
func (c *conn) relayStartup() error {
	for {
		raw, err := readStartupRaw(c.clientConn)
		if err != nil {
			return fmt.Errorf("read startup: %w", err)
		}

		if len(raw) == 8 {
			code := binary.BigEndian.Uint32(raw[4:])
			switch code {
			case sslRequestCode, gssEncRequestCode:
				if _, err := c.clientConn.Write([]byte{'N'}); err != nil {
					return fmt.Errorf("decline ssl/gss: %w", err)
				}
				continue
			}
		}

		if _, err := c.upstreamConn.Write(raw); err != nil {
			return fmt.Errorf("send startup: %w", err)
		}
		break
	}

	for {
		msg, err := readMessageRaw(c.upstreamConn)
		if err != nil {
			return fmt.Errorf("receive auth: %w", err)
		}
		if _, err := c.clientConn.Write(msg); err != nil {
			return fmt.Errorf("send auth: %w", err)
		}

		switch msg[0] {
		case 'Z': // ReadyForQuery — auth complete, hand off to the framed relay.
			return nil
		case 'E':
			return errors.New("auth error from upstream")
		case 'R':
			if len(msg) >= 9 {
				authType := binary.BigEndian.Uint32(msg[5:9])
				if authType != authTypeOk && authType != authTypeSASLFinal {
					resp, err := readMessageRaw(c.clientConn)
					if err != nil {
						return fmt.Errorf("receive auth response: %w", err)
					}
					if _, err := c.upstreamConn.Write(resp); err != nil {
						return fmt.Errorf("send auth response: %w", err)
					}
				}
			}
		}
	}
}

func readStartupRaw(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read startup header: %w", err)
	}
	msgLen := binary.BigEndian.Uint32(hdr[:])
	if msgLen < 4 {
		return nil, errors.New("invalid startup message length")
	}
	buf := make([]byte, msgLen)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return nil, fmt.Errorf("read startup payload: %w", err)
	}
	return buf, nil
}

func readMessageRaw(r io.Reader) ([]byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read message header: %w", err)
	}
	msgLen := binary.BigEndian.Uint32(hdr[1:5])
	buf := make([]byte, 1+msgLen)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(r, buf[5:]); err != nil {
		return nil, fmt.Errorf("read message payload: %w", err)
	}
	return buf, nil
}

// relayClientToUpstream copies framed messages client->upstream through
// the PassThrough interceptor, unchanged.
func (c *conn) relayClientToUpstream(ctx context.Context) error {
	dec := wire.NewDecoder(c.clientConn, false)
	if c.maxFrame > 0 {
		dec.SetMaxFrame(c.maxFrame)
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f, err := dec.Next()
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			logging.FrameDecodeError(c.logger, c.id, err)
			return fmt.Errorf("receive from client: %w", err)
		}

		msg := wire.Classify(f)
		if err := c.forward(c.outbound, c.upstreamConn, f, msg); err != nil {
			if isClosedErr(err) {
				return nil
			}
			return err
		}
	}
}

// relayUpstreamToClient copies framed messages upstream->client through
// the Anonymizer, rewriting RowDescription/DataRow frames in place.
func (c *conn) relayUpstreamToClient(ctx context.Context) error {
	dec := wire.NewDecoder(c.upstreamConn, false)
	if c.maxFrame > 0 {
		dec.SetMaxFrame(c.maxFrame)
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f, err := dec.Next()
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			logging.FrameDecodeError(c.logger, c.id, err)
			return fmt.Errorf("receive from upstream: %w", err)
		}

		msg := wire.Classify(f)
		if err := c.forward(c.inbound, c.clientConn, f, msg); err != nil {
			if isClosedErr(err) {
				return nil
			}
			return err
		}
	}
}

// forward drives one decoded frame through an interceptor and writes the
// (possibly rewritten) result out to dst. A DataRow that arrives without
// a bound RowDescription is a protocol violation and ends the
// connection, matching anonymize.Anonymizer.OnDataRow.
func (c *conn) forward(in anonymize.Interceptor, dst net.Conn, f wire.Frame, msg wire.Message) error {
	switch {
	case msg.RowDesc != nil:
		in.OnRowDescription(msg.RowDesc)
		return wire.WriteFrame(dst, f.Tagged, f.Tag, wire.EncodeRowDescription(msg.RowDesc))

	case msg.Row != nil:
		rewritten, err := in.OnDataRow(msg.Row)
		if err != nil {
			logging.ProtocolViolation(c.logger, c.id, f.Tag, err)
			return fmt.Errorf("protocol violation: %w", err)
		}
		return wire.WriteFrame(dst, f.Tagged, f.Tag, wire.EncodeDataRow(rewritten))

	default:
		return wire.WriteOpaque(dst, f)
	}
}

func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return strings.Contains(netErr.Err.Error(), "closed")
	}
	return strings.Contains(err.Error(), "closed")
}
