package oxia

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oxia-db/oxia/oxiad/dataserver"
)

const (
	// TestNamespace is the namespace served by the embedded test server.
	TestNamespace = "default"

	// ServiceAddressEnv points tests at an external Oxia instead of an
	// embedded standalone server.
	ServiceAddressEnv = "OXIA_SERVICE_ADDRESS"
)

// StartTestServer returns the address of an Oxia server for t. Unless
// ServiceAddressEnv is set it starts an embedded standalone server in a
// temporary directory and stops it when t finishes.
func StartTestServer(t testing.TB) string {
	t.Helper()

	if addr := os.Getenv(ServiceAddressEnv); addr != "" {
		t.Logf("using external Oxia server at %s", addr)
		return addr
	}

	standalone, err := dataserver.NewStandalone(dataserver.NewTestConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("failed to start Oxia standalone server: %v", err)
	}
	t.Cleanup(func() {
		if err := standalone.Close(); err != nil {
			t.Logf("closing Oxia standalone server: %v", err)
		}
	})
	return standalone.ServiceAddr()
}

// NewTestStore connects a Store to a server from StartTestServer.
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	store, err := New(context.Background(), Config{
		ServiceAddress: StartTestServer(t),
		Namespace:      TestNamespace,
		RequestTimeout: 10 * time.Second,
		SessionTimeout: 15 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create Oxia store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
