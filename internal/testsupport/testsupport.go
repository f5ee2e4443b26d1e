// Package testsupport provides shared helpers for exercising the client
// against an in-process dispatcher peer.
package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/CorralNAS/dispatcher-client/internal/config"
)

// SocketPath returns a unique socket path inside a per-test temp directory.
func SocketPath(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "dispatcher.sock")
}

// NewConfig produces a config seeded with per-test paths.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Connection.SocketPath = SocketPath(t)
	cfg.Events.RecordPath = filepath.Join(t.TempDir(), "events.db")
	return &cfg
}
