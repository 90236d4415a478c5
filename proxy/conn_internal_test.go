package proxy

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nwiizo/pgveil/wire"
)

func TestIsClosedErrRecognizesEOF(t *testing.T) {
	t.Parallel()
	if !isClosedErr(io.EOF) {
		t.Fatal("expected io.EOF to be treated as a closed connection")
	}
}

func TestIsClosedErrRecognizesNetOpError(t *testing.T) {
	t.Parallel()
	err := &net.OpError{Op: "read", Err: errors.New("use of closed network connection")}
	if !isClosedErr(err) {
		t.Fatal("expected a closed-network net.OpError to be recognized")
	}
}

func TestIsClosedErrRejectsOtherErrors(t *testing.T) {
	t.Parallel()
	if isClosedErr(errors.New("connection reset by peer")) {
		t.Fatal("unrelated error misclassified as closed")
	}
}

// TestMaxFrameOverrideRejectsOversizedFrame asserts a conn built with a
// maxFrame override enforces it on the client->upstream decoder, rather
// than silently falling back to wire.MaxFrameSize.
func TestMaxFrameOverrideRejectsOversizedFrame(t *testing.T) {
	t.Parallel()

	clientSide, relaySide := net.Pipe()
	t.Cleanup(func() { _ = clientSide.Close() })

	upstreamSide, _ := net.Pipe()
	t.Cleanup(func() { _ = upstreamSide.Close() })

	const tinyMaxFrame = 64
	c := newConn("test-conn", relaySide, upstreamSide, tinyMaxFrame, nil, nil, nil, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- c.relayClientToUpstream(t.Context()) }()

	var hdr [5]byte
	hdr[0] = 'Q'
	binary.BigEndian.PutUint32(hdr[1:], tinyMaxFrame+1)
	_, _ = clientSide.Write(hdr[:])

	err := <-errCh
	if !errors.Is(err, wire.ErrMalformedFrame) {
		t.Fatalf("got %v, want ErrMalformedFrame (maxFrame override not enforced)", err)
	}
}
