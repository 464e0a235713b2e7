// Package credential remembers account passwords in the OS keyring so a
// returning user can sign in without retyping. Bearer tokens are never
// stored here.
package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "petropulse"

// ErrNotFound is returned when nothing is remembered for an account.
var ErrNotFound = errors.New("credential: not found")

// Vault stores passwords keyed by account email.
type Vault struct {
	ring keyring.Keyring
}

// Open returns a Vault backed by the platform keyring, falling back to an
// encrypted file under dir.
func Open(dir string) (*Vault, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt("petropulse-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Vault{ring: ring}, nil
}

// NewVault wraps an existing keyring.
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring}
}

func passwordKey(email string) string {
	return "password:" + strings.ToLower(strings.TrimSpace(email))
}

// Remember stores the password for email.
func (v *Vault) Remember(email, password string) error {
	err := v.ring.Set(keyring.Item{
		Key:         passwordKey(email),
		Data:        []byte(password),
		Label:       "PetroPulse " + email,
		Description: "PetroPulse account password",
	})
	if err != nil {
		return fmt.Errorf("remembering password for %q: %w", email, err)
	}
	return nil
}

// Recall returns the remembered password for email.
func (v *Vault) Recall(email string) (string, error) {
	item, err := v.ring.Get(passwordKey(email))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("recalling password for %q: %w", email, err)
	}
	return string(item.Data), nil
}

// Forget removes the remembered password. Forgetting an unknown account
// is not an error.
func (v *Vault) Forget(email string) error {
	err := v.ring.Remove(passwordKey(email))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("forgetting password for %q: %w", email, err)
	}
	return nil
}

// Accounts lists the emails with a remembered password.
func (v *Vault) Accounts() ([]string, error) {
	keys, err := v.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing keyring: %w", err)
	}
	var out []string
	for _, k := range keys {
		if email, ok := strings.CutPrefix(k, "password:"); ok {
			out = append(out, email)
		}
	}
	return out, nil
}
