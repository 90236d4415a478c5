// Package logging wires rs/zerolog for the proxy's structured events:
// connection_accepted, connection_closed, frame_decode_error, and
// protocol_violation. Every event carries a conn_id so a connection's
// lifecycle can be grepped out of a shared log stream.
package logging

import (
	"io"

	"github.com/rs/zerolog"
)

// New builds a logger writing level-filtered JSON lines to w. level
// accepts any name zerolog.ParseLevel understands ("debug", "info",
// "warn", "error"); an unrecognized name falls back to info.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// ConnectionAccepted logs a newly accepted client connection.
func ConnectionAccepted(l zerolog.Logger, connID, remoteAddr string) {
	l.Info().
		Str("event", "connection_accepted").
		Str("conn_id", connID).
		Str("remote_addr", remoteAddr).
		Msg("accepted client connection")
}

// ConnectionClosed logs a connection's teardown, successful or not.
func ConnectionClosed(l zerolog.Logger, connID string, err error) {
	ev := l.Info()
	if err != nil {
		ev = l.Warn().Err(err)
	}
	ev.Str("event", "connection_closed").
		Str("conn_id", connID).
		Msg("closed client connection")
}

// FrameDecodeError logs a malformed or truncated frame on a connection.
// The caller is expected to close the connection immediately after.
func FrameDecodeError(l zerolog.Logger, connID string, err error) {
	l.Error().
		Str("event", "frame_decode_error").
		Str("conn_id", connID).
		Err(err).
		Msg("failed to decode frame")
}

// ProtocolViolation logs a well-formed frame that violated protocol
// sequencing (e.g. a DataRow with no bound RowDescription). The caller
// should treat this as connection-fatal.
func ProtocolViolation(l zerolog.Logger, connID string, frameTag byte, err error) {
	l.Warn().
		Str("event", "protocol_violation").
		Str("conn_id", connID).
		Str("frame_tag", string(frameTag)).
		Err(err).
		Msg("protocol violation")
}

// SchemaResolveFailed logs a non-fatal failure to resolve table OIDs for
// a connection; table-scoped rules degrade to unconditional matching for
// its lifetime.
func SchemaResolveFailed(l zerolog.Logger, connID string, err error) {
	l.Warn().
		Str("event", "schema_resolve_failed").
		Str("conn_id", connID).
		Err(err).
		Msg("schema resolution failed, table-scoped rules will match unconditionally")
}
