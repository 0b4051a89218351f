package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/exhibit-kiosk/internal/config"
)

// DeviceIDKey is the key under which the device identity is stored.
const DeviceIDKey = "device_id"

// ErrNotFound is returned when the key has never been set.
var ErrNotFound = errors.New("identity not found")

// errUnknownBackend is returned for an unsupported store name.
var errUnknownBackend = errors.New("unknown identity store")

// Store is the persisted key-value store holding the device identity.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Open creates the store selected by the configuration.
//
//nolint:ireturn // Backend is chosen at runtime.
func Open(ctx context.Context, backend, path string) (Store, error) {
	switch backend {
	case config.IdentityStoreFile, "":
		return NewFileStore(path), nil
	case config.IdentityStoreSQLite:
		return OpenSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("%q: %w", backend, errUnknownBackend)
	}
}
