// Package secrets stores GitHub access tokens in the OS keychain with an
// encrypted database column as fallback for headless hosts. Plaintext
// never reaches logs; callers see presence/absence, not keychain errors.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/gitflow-ai/gitflow-mcp/internal/logging"
	"github.com/gitflow-ai/gitflow-mcp/internal/store"
)

// Fallback is the encrypted-column tier, implemented by the user store.
type Fallback interface {
	SetTokenColumn(ctx context.Context, githubID int64, value string) error
	GetTokenColumn(ctx context.Context, githubID int64) (string, error)
}

// Store is the two-tier keyed blob store.
type Store struct {
	service  string
	cipher   *cipher
	fallback Fallback
}

// New creates a secret store. key must be 32 bytes; it encrypts the
// fallback column only, the keychain handles its own protection.
func New(service string, key []byte, fallback Fallback) (*Store, error) {
	c, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	return &Store{service: service, cipher: c, fallback: fallback}, nil
}

// AccountKey builds the keychain account key for a GitHub identity.
func AccountKey(githubID int64) string {
	return fmt.Sprintf("github_%d", githubID)
}

// Put stores the secret, succeeding if at least one tier accepted it.
func (s *Store) Put(ctx context.Context, accountKey, secret string) error {
	githubID, err := parseAccountKey(accountKey)
	if err != nil {
		return err
	}

	if kerr := keyring.Set(s.service, accountKey, secret); kerr == nil {
		// Keychain holds the secret; the column records where to find it.
		if derr := s.fallback.SetTokenColumn(ctx, githubID, store.TokenInKeychain); derr != nil {
			logging.Logger.Warn("failed to record keychain sentinel", "account", accountKey, "error", derr)
		}
		return nil
	} else {
		logging.Logger.Debug("keychain write failed, using database fallback", "account", accountKey)
	}

	ciphertext, err := s.cipher.encrypt(secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}
	if err := s.fallback.SetTokenColumn(ctx, githubID, ciphertext); err != nil {
		return fmt.Errorf("both secret tiers rejected the write: %w", err)
	}
	return nil
}

// Get retrieves the secret, consulting the keychain first and the
// encrypted column on miss or error. Returns ok=false when neither tier
// holds a usable secret; tier errors are never surfaced.
func (s *Store) Get(ctx context.Context, accountKey string) (string, bool) {
	if secret, err := keyring.Get(s.service, accountKey); err == nil && secret != "" {
		return secret, true
	} else if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		logging.Logger.Debug("keychain read failed, trying database fallback", "account", accountKey)
	}

	githubID, err := parseAccountKey(accountKey)
	if err != nil {
		return "", false
	}

	value, err := s.fallback.GetTokenColumn(ctx, githubID)
	if err != nil {
		return "", false
	}
	switch value {
	case "", store.TokenInKeychain, store.TokenLoggedOut, store.TokenRedacted:
		return "", false
	}

	secret, err := s.cipher.decrypt(value)
	if err != nil {
		logging.Logger.Warn("stored token ciphertext is unreadable", "account", accountKey)
		return "", false
	}
	return secret, true
}

// Delete removes the secret from both tiers, writing the logged-out
// sentinel into the column. Idempotent.
func (s *Store) Delete(ctx context.Context, accountKey string) error {
	if err := keyring.Delete(s.service, accountKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		logging.Logger.Debug("keychain delete failed", "account", accountKey)
	}

	githubID, err := parseAccountKey(accountKey)
	if err != nil {
		return err
	}
	if err := s.fallback.SetTokenColumn(ctx, githubID, store.TokenLoggedOut); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to clear token column: %w", err)
	}
	return nil
}

func parseAccountKey(accountKey string) (int64, error) {
	raw, ok := strings.CutPrefix(accountKey, "github_")
	if !ok {
		return 0, fmt.Errorf("invalid account key %q", accountKey)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid account key %q", accountKey)
	}
	return id, nil
}
