package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	tokenService = "mindq"
	tokenAccount = "api_token"
	tokenEnvVar  = "MINDQ_SERVER_TOKEN"
)

// GetAPIToken returns the bearer token protecting the management API.
// Resolution order: MINDQ_SERVER_TOKEN env var, platform secret store,
// then a freshly generated token persisted to the secret store.
func GetAPIToken() (string, error) {
	if v := os.Getenv(tokenEnvVar); v != "" {
		return v, nil
	}

	if out, err := keychainExec(tokenService, tokenAccount); err == nil {
		if tok := strings.TrimSpace(string(out)); tok != "" {
			return tok, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)

	if err := keychainStore(tokenService, tokenAccount, tok); err != nil {
		return "", fmt.Errorf("persisting API token: %w", err)
	}
	return tok, nil
}
