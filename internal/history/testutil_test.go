package history

import (
	"testing"

	"github.com/postalsys/flingr/internal/connection"
	"github.com/postalsys/flingr/internal/crypto"
)

func newTestSealer(t *testing.T) *crypto.Sealer {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return crypto.NewSealer(key)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, _, err := Open(t.TempDir(), newTestSealer(t))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func sampleConnection(code string) connection.Connection {
	return connection.Connection{
		ActivationCode: code,
		ColloquialName: "Living room Pi",
		LocalAddress:   "192.168.1.20",
		LocalPort:      22,
		WANAddress:     "203.0.113.7",
		WANPort:        2222,
		UserName:       "pi",
		UserPassword:   "raspberry",
	}
}
