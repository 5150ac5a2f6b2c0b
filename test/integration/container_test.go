//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const defaultPostgresImage = "postgres:16-alpine"

// errNoBtreeGist means the server is up but cannot host the admission
// overlap constraint. Retrying will not help.
var errNoBtreeGist = errors.New("btree_gist extension is not available")

// startPostgres runs a throwaway Postgres through the Docker CLI and returns
// its connection string and a cleanup function. ADMISSIONS_TEST_PG_IMAGE
// overrides the image; it must ship the btree_gist contrib module.
func startPostgres(ctx context.Context) (string, func(), error) {
	image := os.Getenv("ADMISSIONS_TEST_PG_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}

	// Docker picks the host port, which avoids racing other test binaries
	// for one we found free.
	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"--label", "admissions-integration",
		"-p", "127.0.0.1::5432",
		"--tmpfs", "/var/lib/postgresql/data",
		"-e", "POSTGRES_USER=testuser",
		"-e", "POSTGRES_PASSWORD=testpass",
		"-e", "POSTGRES_DB=admissions",
		image,
		"-c", "fsync=off", "-c", "max_connections=200",
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run %s: %w\noutput: %s", image, err, out)
	}
	containerID := strings.TrimSpace(string(out))
	cleanup := func() {
		_ = exec.Command("docker", "rm", "-f", containerID).Run()
	}

	hostPort, err := mappedPort(ctx, containerID)
	if err != nil {
		cleanup()
		return "", nil, err
	}

	connStr := fmt.Sprintf("postgres://testuser:testpass@%s/admissions?sslmode=disable", hostPort)
	if err := waitForPostgres(ctx, connStr, 30*time.Second); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("wait for postgres: %w", err)
	}
	return connStr, cleanup, nil
}

// mappedPort asks Docker which host address it bound to the container's 5432.
func mappedPort(ctx context.Context, containerID string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", "port", containerID, "5432/tcp").Output()
	if err != nil {
		return "", fmt.Errorf("docker port: %w", err)
	}
	// one line per binding, e.g. "127.0.0.1:49153"
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if _, _, err := net.SplitHostPort(line); err != nil {
		return "", fmt.Errorf("parse docker port output %q: %w", line, err)
	}
	return line, nil
}

// waitForPostgres polls until the server answers and has btree_gist to
// offer. A server without the extension fails immediately.
func waitForPostgres(ctx context.Context, connStr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		err := checkServer(ctx, connStr)
		if err == nil || errors.Is(err, errNoBtreeGist) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("postgres not ready after %v: %w", timeout, lastErr)
}

func checkServer(ctx context.Context, connStr string) error {
	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	conn, err := pgx.Connect(connCtx, connStr)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	var available bool
	err = conn.QueryRow(connCtx,
		`SELECT EXISTS (SELECT 1 FROM pg_available_extensions WHERE name = 'btree_gist')`).Scan(&available)
	if err != nil {
		return err
	}
	if !available {
		return errNoBtreeGist
	}
	return nil
}
