package proxy_test

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nwiizo/pgveil/config"
	"github.com/nwiizo/pgveil/metrics"
	"github.com/nwiizo/pgveil/proxy"
)

const (
	testUser     = "postgres"
	testPassword = "test"
	testDB       = "test"
)

// startPostgres launches a postgres container and returns its host:port
// and a ready-to-use DSN.
func startPostgres(t *testing.T) (addr, dsn string) {
	t.Helper()

	ctx := t.Context()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
			"POSTGRES_DB":       testDB,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("get host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("get port: %v", err)
	}
	addr = fmt.Sprintf("%s:%s", host, port.Port())
	dsn = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", testUser, testPassword, addr, testDB)
	return addr, dsn
}

func startProxy(t *testing.T, upstream, upstreamDSN string, cfg config.ConfigSnapshot) string {
	t.Helper()

	var lc net.ListenConfig
	lis, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	_ = lis.Close()

	reg := metrics.New()
	logger := zerolog.Nop()
	p := proxy.New(addr, upstream, upstreamDSN, 0, cfg, reg, logger)

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		if err := p.ListenAndServe(ctx); err != nil {
			if ctx.Err() == nil {
				t.Logf("proxy error: %v", err)
			}
		}
	}()

	d := net.Dialer{Timeout: 100 * time.Millisecond}
	for range 50 {
		conn, dialErr := d.DialContext(ctx, "tcp", addr)
		if dialErr == nil {
			_ = conn.Close()
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Cleanup(func() {
		cancel()
		_ = p.Close()
	})

	return addr
}

func TestProxyMasksEmailColumn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-based integration test in -short mode")
	}
	t.Parallel()

	upstreamAddr, upstreamDSN := startPostgres(t)

	store := config.NewStore(&config.Snapshot{})
	proxyAddr := startProxy(t, upstreamAddr, upstreamDSN, store)

	proxyDSN := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", testUser, testPassword, proxyAddr, testDB)
	db, err := sql.Open("pgx", proxyDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(t.Context(),
		"CREATE TABLE users (id serial primary key, email text)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.ExecContext(t.Context(),
		"INSERT INTO users (email) VALUES ('alice@example.com')"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got string
	if err := db.QueryRowContext(t.Context(), "SELECT email FROM users WHERE id = 1").Scan(&got); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got == "alice@example.com" {
		t.Fatal("email was relayed unmasked through the proxy")
	}
}
