package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"dronesync-desktop/internal/logging"
)

var log = logging.Get("credentials")

const (
	keystoreService = "dronesync-desktop"
	// TokenEnv overrides the keychain for every profile (development/CI).
	TokenEnv = "DRONESYNC_API_TOKEN"
)

// ErrNoToken is returned when no token is stored for a profile.
var ErrNoToken = errors.New("no API token stored")

func account(profileID string) string {
	return "profile:" + profileID
}

// SaveToken stores the API token of a profile in the system keychain.
func SaveToken(profileID, token string) error {
	if profileID == "" {
		return fmt.Errorf("profile id is required")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is required")
	}
	if err := keyring.Set(keystoreService, account(profileID), token); err != nil {
		return fmt.Errorf("failed to store token in keychain: %w", err)
	}
	return nil
}

// LoadToken returns the API token of a profile.
// Priority:
// 1. DRONESYNC_API_TOKEN environment variable
// 2. System keychain
func LoadToken(profileID string) (string, error) {
	if token := strings.TrimSpace(os.Getenv(TokenEnv)); token != "" {
		return token, nil
	}

	token, err := keyring.Get(keystoreService, account(profileID))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("failed to read token from keychain: %w", err)
	}
	return token, nil
}

// DeleteToken removes a profile's token. A missing token is not an error.
func DeleteToken(profileID string) error {
	err := keyring.Delete(keystoreService, account(profileID))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete token from keychain: %w", err)
	}
	return nil
}

// HasToken reports whether a token is available for a profile.
func HasToken(profileID string) bool {
	_, err := LoadToken(profileID)
	if err != nil && !errors.Is(err, ErrNoToken) {
		log.Warningf("Keychain unavailable: %v", err)
	}
	return err == nil
}
