package runtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const serviceName = "mail-importer"

// ErrNoToken means no token is stored for the account.
var ErrNoToken = errors.New("no stored token")

// TokenStore persists OAuth tokens per account.
type TokenStore interface {
	Load(account string) (*oauth2.Token, error)
	Save(account string, tok *oauth2.Token) error
}

// KeyringTokens stores tokens in the OS keyring, falling back to an
// encrypted file under dir.
type KeyringTokens struct {
	ring keyring.Keyring
}

// OpenTokenStore opens the keyring. passphrase protects the file backend.
func OpenTokenStore(dir, passphrase string) (*KeyringTokens, error) {
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
		FilePasswordFunc:         keyring.FixedStringPrompt(passphrase),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringTokens(ring), nil
}

// NewKeyringTokens wraps an already opened keyring.
func NewKeyringTokens(ring keyring.Keyring) *KeyringTokens {
	return &KeyringTokens{ring: ring}
}

func (k *KeyringTokens) Load(account string) (*oauth2.Token, error) {
	item, err := k.ring.Get(tokenKey(account))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("getting token for %q: %w", account, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(item.Data, &tok); err != nil {
		return nil, fmt.Errorf("decoding token for %q: %w", account, err)
	}
	return &tok, nil
}

func (k *KeyringTokens) Save(account string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	err = k.ring.Set(keyring.Item{
		Key:         tokenKey(account),
		Data:        data,
		Label:       "mail-importer Gmail token",
		Description: "OAuth token for " + account,
	})
	if err != nil {
		return fmt.Errorf("setting token for %q: %w", account, err)
	}
	return nil
}

// Delete forgets the account's token.
func (k *KeyringTokens) Delete(account string) error {
	if err := k.ring.Remove(tokenKey(account)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting token for %q: %w", account, err)
	}
	return nil
}

func tokenKey(account string) string {
	return "gmail-token:" + account
}
