// Package schema resolves PostgreSQL table OIDs to table names so the
// rules package can apply table-scoped masking rules. Resolution is a
// best-effort enhancement: a failed or partial lookup degrades callers
// to matching unconditionally rather than failing the connection (see
// rules.TableNames).
package schema

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
)

const listRelationsQuery = `SELECT oid, relname FROM pg_class WHERE relkind = 'r'`

// Cache maps table OIDs to names for the lifetime of a single upstream
// connection. It is populated once via Load and is safe for concurrent
// reads thereafter.
type Cache struct {
	mu     sync.RWMutex
	byOID  map[uint32]string
	loaded bool
}

// NewCache returns an empty, unloaded Cache. Name returns ok=false for
// every OID until Load succeeds.
func NewCache() *Cache {
	return &Cache{byOID: make(map[uint32]string)}
}

// Name implements rules.TableNames.
func (c *Cache) Name(oid uint32) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byOID[oid]
	return name, ok
}

// Load connects to dsn, queries pg_class for every ordinary table, and
// populates the cache. It is called once per upstream connection, before
// the first RowDescription is relayed. A query failure is returned to
// the caller, who is expected to log it at warn level and continue with
// an empty (always-degrading) cache rather than reject the connection —
// schema resolution is advisory, not required for correct masking.
func (c *Cache) Load(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("schema: connect: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	rows, err := conn.Query(ctx, listRelationsQuery)
	if err != nil {
		return fmt.Errorf("schema: query pg_class: %w", err)
	}
	defer rows.Close()

	byOID := make(map[uint32]string)
	for rows.Next() {
		var oid uint32
		var name string
		if err := rows.Scan(&oid, &name); err != nil {
			return fmt.Errorf("schema: scan: %w", err)
		}
		byOID[oid] = name
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("schema: rows: %w", err)
	}

	c.mu.Lock()
	c.byOID = byOID
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// Loaded reports whether Load has completed successfully at least once.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}
