// Package proxy accepts PostgreSQL client connections, relays the
// startup/auth handshake unmodified, and then pipes wire traffic through
// two directional interceptors: client→upstream passes through verbatim,
// upstream→client runs through anonymize.Anonymizer so RowDescription and
// DataRow frames are rewritten before they reach the client.
package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nwiizo/pgveil/config"
	"github.com/nwiizo/pgveil/logging"
	"github.com/nwiizo/pgveil/metrics"
	"github.com/nwiizo/pgveil/rules"
	"github.com/nwiizo/pgveil/schema"
)

// Proxy is the external interface a caller drives: accept client
// connections on Listen and relay them to Upstream until Close is called
// or the context passed to ListenAndServe is cancelled.
type Proxy interface {
	ListenAndServe(ctx context.Context) error
	Close() error
}

// proxy is the default Proxy implementation.
type proxy struct {
	listenAddr   string
	upstreamAddr string
	upstreamDSN  string // used only for schema resolution, not the data relay
	maxFrame     int    // 0 means wire.MaxFrameSize

	cfg     config.ConfigSnapshot
	metrics *metrics.Registry
	logger  zerolog.Logger

	mu  sync.Mutex
	lis net.Listener
}

// New builds a Proxy. upstreamDSN, if non-empty, is used once per
// connection to resolve table OIDs for table-scoped masking rules; an
// empty upstreamDSN (or a failed resolution) degrades those rules to
// matching unconditionally. maxFrame overrides wire.MaxFrameSize for
// every connection's decoders; 0 keeps the default.
func New(listenAddr, upstreamAddr, upstreamDSN string, maxFrame int, cfg config.ConfigSnapshot, reg *metrics.Registry, logger zerolog.Logger) Proxy {
	return &proxy{
		listenAddr:   listenAddr,
		upstreamAddr: upstreamAddr,
		upstreamDSN:  upstreamDSN,
		maxFrame:     maxFrame,
		cfg:          cfg,
		metrics:      reg,
		logger:       logger,
	}
}

// ListenAndServe accepts connections until ctx is cancelled or Close is
// called, spawning one relay goroutine pair per connection.
func (p *proxy) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", p.listenAddr)
	if err != nil {
		return fmt.Errorf("proxy: listen %s: %w", p.listenAddr, err)
	}

	p.mu.Lock()
	p.lis = lis
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = p.Close()
	}()

	var wg sync.WaitGroup
	for {
		clientConn, err := lis.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("proxy: accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.handleConn(ctx, clientConn)
		}()
	}
}

// Close stops accepting new connections. It does not close in-flight
// connections: each keeps relaying until one of its peers disconnects,
// and ListenAndServe waits for them before it returns.
func (p *proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lis == nil {
		return nil
	}
	return p.lis.Close()
}

func (p *proxy) handleConn(ctx context.Context, clientConn net.Conn) {
	connID := uuid.New().String()
	logging.ConnectionAccepted(p.logger, connID, clientConn.RemoteAddr().String())

	upstreamConn, err := net.Dial("tcp", p.upstreamAddr)
	if err != nil {
		logging.ConnectionClosed(p.logger, connID, fmt.Errorf("dial upstream: %w", err))
		_ = clientConn.Close()
		return
	}

	if p.metrics != nil {
		p.metrics.ConnectionOpened()
		defer p.metrics.ConnectionClosed()
	}

	tables := p.resolveSchema(ctx, connID)

	c := newConn(connID, clientConn, upstreamConn, p.maxFrame, p.currentRules(), tables, p.metrics, p.logger)
	err = c.relay(ctx)
	logging.ConnectionClosed(p.logger, connID, err)
}

func (p *proxy) currentRules() []rules.MaskingRule {
	if p.cfg == nil {
		return nil
	}
	snap := p.cfg.Current()
	if snap == nil {
		return nil
	}
	return snap.Rules
}

// resolveSchema loads the OID→table-name cache for one connection. A
// failure is logged at warn level and an unloaded cache (which always
// degrades table-scoped rules to unconditional matching) is used
// instead — schema resolution is advisory, never connection-fatal.
func (p *proxy) resolveSchema(ctx context.Context, connID string) *schema.Cache {
	cache := schema.NewCache()
	if p.upstreamDSN == "" {
		return cache
	}
	if err := cache.Load(ctx, p.upstreamDSN); err != nil {
		logging.SchemaResolveFailed(p.logger, connID, err)
	}
	return cache
}
