// Package auth stores the bot's reddit API credentials. Secrets never live
// in the main config file: they resolve from the system keychain, an
// AES-GCM encrypted file under the data directory, or environment
// variables, in that order.
package auth

import (
	"errors"
	"fmt"
	"time"
)

// Credentials holds everything needed for a reddit script-app login.
type Credentials struct {
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store is a single credential backend.
type Store interface {
	Save(creds *Credentials) error
	Load(username string) (*Credentials, error)
	Delete(username string) error
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreReadOnly       = errors.New("credential store is read-only")
)

// Manager resolves credentials across an ordered list of backends.
type Manager struct {
	stores []Store
}

// NewManager builds the default backend chain for the given data directory:
// system keychain when available, the encrypted file, then environment
// variables as a read-only last resort.
func NewManager(dataDir string) (*Manager, error) {
	var stores []Store

	if ks, err := NewKeyringStore(); err == nil {
		stores = append(stores, ks)
	}

	es, err := NewEncryptedFileStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("encrypted store: %w", err)
	}
	stores = append(stores, es, EnvStore{})

	return &Manager{stores: stores}, nil
}

// NewManagerWith builds a manager over explicit backends, used by tests.
func NewManagerWith(stores ...Store) *Manager {
	return &Manager{stores: stores}
}

// Save writes the credentials to the first backend that accepts them.
func (m *Manager) Save(creds *Credentials) error {
	if creds == nil || creds.Username == "" || creds.Password == "" ||
		creds.ClientID == "" || creds.ClientSecret == "" {
		return ErrInvalidCredentials
	}
	creds.LastModified = time.Now()

	var lastErr error
	for _, s := range m.stores {
		if err := s.Save(creds); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("save credentials: %w", lastErr)
	}
	return ErrStoreReadOnly
}

// Load returns credentials for username from the first backend that has them.
func (m *Manager) Load(username string) (*Credentials, error) {
	for _, s := range m.stores {
		if creds, err := s.Load(username); err == nil && creds != nil {
			return creds, nil
		}
	}
	return nil, ErrCredentialsNotFound
}

// Delete removes the credentials from every backend that has them.
func (m *Manager) Delete(username string) error {
	var deleted bool
	for _, s := range m.stores {
		if err := s.Delete(username); err == nil {
			deleted = true
		}
	}
	if !deleted {
		return ErrCredentialsNotFound
	}
	return nil
}

// Sanitize returns a display copy with the secret fields masked.
func Sanitize(creds *Credentials) *Credentials {
	if creds == nil {
		return nil
	}
	out := *creds
	out.Password = mask(creds.Password)
	out.ClientSecret = mask(creds.ClientSecret)
	return &out
}

func mask(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
