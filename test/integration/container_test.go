//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	// RADIOLOGY_TEST_DATABASE_URL skips docker and uses an existing server.
	envTestDatabaseURL = "RADIOLOGY_TEST_DATABASE_URL"
	envTestImage       = "RADIOLOGY_TEST_PG_IMAGE"
	defaultTestImage   = "postgres:16-alpine"
)

// startPostgresContainer returns a connection string for the radiology test
// database and a cleanup function.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	if url := os.Getenv(envTestDatabaseURL); url != "" {
		if err := waitForPostgres(ctx, url, 10*time.Second); err != nil {
			return "", nil, fmt.Errorf("%s: %w", envTestDatabaseURL, err)
		}
		return url, func() {}, nil
	}

	image := os.Getenv(envTestImage)
	if image == "" {
		image = defaultTestImage
	}
	name := fmt.Sprintf("radiology-it-%d", time.Now().UnixNano())

	out, err := docker(ctx, "run", "-d", "--rm",
		"--name", name,
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=radiology",
		"-e", "POSTGRES_PASSWORD=radiology",
		"-e", "POSTGRES_DB=radiologytest",
		image,
	)
	if err != nil {
		return "", nil, err
	}
	// pull progress may precede the container id
	lines := strings.Split(out, "\n")
	id := strings.TrimSpace(lines[len(lines)-1])
	cleanup := func() { _, _ = docker(context.Background(), "rm", "-f", id) }

	// docker port prints e.g. "127.0.0.1:49154"
	mapped, err := docker(ctx, "port", id, "5432/tcp")
	if err != nil {
		cleanup()
		return "", nil, err
	}
	hostPort := strings.TrimSpace(strings.Split(mapped, "\n")[0])

	url := fmt.Sprintf("postgres://radiology:radiology@%s/radiologytest?sslmode=disable", hostPort)
	if err := waitForPostgres(ctx, url, 30*time.Second); err != nil {
		cleanup()
		return "", nil, err
	}
	return url, cleanup, nil
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// waitForPostgres polls until a connection can run a query.
func waitForPostgres(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		conn, err := pgx.Connect(ctx, url)
		if err == nil {
			var one int
			err = conn.QueryRow(ctx, "SELECT 1").Scan(&one)
			conn.Close(context.Background())
			if err == nil {
				return nil
			}
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", timeout, lastErr)
		case <-time.After(250 * time.Millisecond):
		}
	}
}
