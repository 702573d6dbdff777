// Package testutil holds shared helpers for integration tests.
package testutil

import (
	"fmt"
	"net"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// RandomPort returns a free TCP port on 127.0.0.1.
func RandomPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:")
	if err != nil {
		return 0, err
	}
	defer ln.Close() // nolint:errcheck

	addr := ln.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

// StartPostgres runs a disposable postgres container and returns its DSN.
// The test is skipped when no docker daemon is reachable; the container is
// removed when the test ends.
func StartPostgres(t *testing.T) string {
	t.Helper()

	cmd := exec.Command("docker", "info", "--format", "{{.ServerVersion}}")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("docker not available, skipping postgres-backed test: %s", out)
	}

	port, err := RandomPort()
	require.NoError(t, err, "failed to acquire a free port for postgres")

	container, err := postgres.Run(t.Context(),
		"postgres:17-alpine",
		postgres.WithDatabase("jiractl-test"),
		postgres.WithUsername("jiractl"),
		postgres.WithPassword("pwd"),
		postgres.BasicWaitStrategies(),
		testcontainers.CustomizeRequestOption(func(req *testcontainers.GenericContainerRequest) error {
			req.ExposedPorts = []string{fmt.Sprintf("%d:5432", port)}
			return nil
		}),
	)
	require.NoError(t, err, "failed to start the postgres container")
	t.Cleanup(func() { testcontainers.CleanupContainer(t, container) })

	dsn, err := container.ConnectionString(t.Context())
	require.NoError(t, err, "failed to read the container connection string")
	t.Logf("postgres container started, dsn=%v", dsn)

	return dsn
}
