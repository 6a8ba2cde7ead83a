// Package storetest provides a shared, once-per-package PostgreSQL
// testcontainer for pkg/store's integration tests.
package storetest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/reqflow/reqflow/pkg/store"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// NewPool starts (once per package) a shared postgres container, creates a
// uniquely-named schema for the calling test, migrates it, and returns a
// *store.Pool scoped to that schema. The schema is dropped on cleanup.
func NewPool(t *testing.T) *store.Pool {
	t.Helper()
	ctx := context.Background()

	base := sharedConnectionString(t)
	schema := schemaName(t)

	setupConn, err := store.Open(ctx, base)
	require.NoError(t, err)
	_, err = setupConn.Raw().Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)
	setupConn.Close()

	scoped := withSearchPath(base, schema)
	require.NoError(t, store.Migrate(scoped))

	pool, err := store.Open(ctx, scoped)
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanup, err := store.Open(context.Background(), base)
		if err == nil {
			_, _ = cleanup.Raw().Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
			cleanup.Close()
		}
		pool.Close()
	})

	return pool
}

func sharedConnectionString(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("CI_DATABASE_URL"); url != "" {
		return url
	}
	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("reqflow_test"),
			postgres.WithUsername("reqflow"),
			postgres.WithPassword("reqflow"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres container: %w", err)
			return
		}
		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("container connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})
	require.NoError(t, containerErr)
	return sharedConnStr
}

func schemaName(t *testing.T) string {
	t.Helper()
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}
	buf := make([]byte, 4)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(buf))
}

func withSearchPath(connStr, schema string) string {
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s", connStr, sep, schema)
}
