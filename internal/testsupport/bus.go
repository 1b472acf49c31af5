package testsupport

import (
	"testing"

	"newsreel/internal/bus"
	"newsreel/internal/config"
)

// MustOpenBus opens the event bus for tests and registers cleanup.
func MustOpenBus(t testing.TB, cfg *config.Config) *bus.Bus {
	t.Helper()

	b, err := bus.Open(cfg)
	if err != nil {
		t.Fatalf("bus.Open: %v", err)
	}
	t.Cleanup(func() {
		b.Close()
	})
	return b
}
