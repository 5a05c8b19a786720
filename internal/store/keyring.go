package store

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/zalando/go-keyring"

	"github.com/searchx/searchx/internal/settings"
)

// DefaultKeyringService is the keychain service name used when none is configured.
const DefaultKeyringService = "searchx"

// KeyringStore routes secret keys to the OS keychain and everything else to the
// wrapped store.
type KeyringStore struct {
	inner   Store
	service string
	secrets map[string]bool
}

// NewKeyringStore wraps inner. Only settings.KeyAPIKey is treated as a secret.
func NewKeyringStore(inner Store, service string) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{
		inner:   inner,
		service: service,
		secrets: map[string]bool{settings.KeyAPIKey: true},
	}
}

// Get merges keychain secrets with values from the wrapped store.
func (s *KeyringStore) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	plain, secret := s.split(keys)

	out, err := s.inner.Get(ctx, plain...)
	if err != nil {
		return nil, err
	}
	for _, k := range secret {
		v, err := keyring.Get(s.service, k)
		if errors.Is(err, keyring.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %q from keychain: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Set writes secrets to the keychain first, then the remaining values.
func (s *KeyringStore) Set(ctx context.Context, values map[string]string) error {
	plain := maps.Clone(values)
	for k, v := range values {
		if !s.secrets[k] {
			continue
		}
		if err := keyring.Set(s.service, k, v); err != nil {
			return fmt.Errorf("failed to write %q to keychain: %w", k, err)
		}
		delete(plain, k)
	}
	return s.inner.Set(ctx, plain)
}

// Remove deletes secrets from the keychain and the rest from the wrapped store.
func (s *KeyringStore) Remove(ctx context.Context, keys ...string) error {
	plain, secret := s.split(keys)
	for _, k := range secret {
		if err := keyring.Delete(s.service, k); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to delete %q from keychain: %w", k, err)
		}
	}
	return s.inner.Remove(ctx, plain...)
}

// Close closes the wrapped store.
func (s *KeyringStore) Close() error { return s.inner.Close() }

func (s *KeyringStore) split(keys []string) (plain, secret []string) {
	for _, k := range keys {
		if s.secrets[k] {
			secret = append(secret, k)
		} else {
			plain = append(plain, k)
		}
	}
	return plain, secret
}

var _ Store = (*KeyringStore)(nil)
