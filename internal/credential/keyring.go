// Package credential keeps the mail account password in the system
// keyring so it does not have to live in config.yaml or .env.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "outreach"

// ErrNotFound is returned when no password is stored for an account.
var ErrNotFound = errors.New("credential not found")

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/outreach/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("outreach-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Store reads and writes account passwords.
type Store struct {
	ring keyring.Keyring
}

// Open returns a Store backed by the system keyring.
func Open() (*Store, error) {
	ring, err := openKeyring()
	if err != nil {
		return nil, err
	}
	return &Store{ring: ring}, nil
}

// NewStore wraps an existing keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func passwordKey(account string) string {
	return "password:" + account
}

// Password retrieves the password stored for account.
func (s *Store) Password(account string) (string, error) {
	item, err := s.ring.Get(passwordKey(account))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential for %q: %w", account, err)
	}

	return string(item.Data), nil
}

// SetPassword stores the password for account.
func (s *Store) SetPassword(account, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:   passwordKey(account),
		Data:  []byte(password),
		Label: "outreach mail password for " + account,
	})
	if err != nil {
		return fmt.Errorf("setting credential for %q: %w", account, err)
	}

	return nil
}

// DeletePassword removes the password for account.
func (s *Store) DeletePassword(account string) error {
	err := s.ring.Remove(passwordKey(account))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting credential for %q: %w", account, err)
	}

	return nil
}
