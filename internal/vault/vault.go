// Package vault resolves named credentials for model providers.
// It defines the lookup contract consumed by the provider gateway; the
// backing store's encryption is owned by the deployment, not this package.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when the named credential does not exist.
var ErrNotFound = errors.New("vault: credential not found")

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("vault: backing store unavailable")

// Client resolves named credentials on demand.
//
// Resolved values are sensitive: callers must not log them and must not
// persist them beyond the scope of a single network call. The client
// performs no retries; callers decide whether a missing credential is
// fatal for their current operation.
type Client interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Static is an in-memory vault, used in tests and for credentials passed
// through process configuration.
type Static map[string]string

// Resolve returns the named value or ErrNotFound.
func (s Static) Resolve(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

// FileVault reads credentials from a YAML file of name/value pairs.
// The file is re-read on every resolution so rotated credentials take
// effect without a restart. Values may reference environment variables
// with ${VAR} syntax.
type FileVault struct {
	path string

	mu sync.Mutex
}

// NewFileVault creates a vault backed by the file at path.
func NewFileVault(path string) *FileVault {
	return &FileVault{path: path}
}

// Resolve reads the vault file and returns the named value.
// It fails with ErrUnavailable if the file cannot be read or parsed, and
// with ErrNotFound if the name is absent.
func (f *FileVault) Resolve(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// A group- or world-readable vault file defeats the point.
	if info.Mode().Perm()&0o077 != 0 {
		return "", fmt.Errorf("%w: %s is readable by other users (mode %o)",
			ErrUnavailable, f.path, info.Mode().Perm())
	}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	entries := map[string]string{}
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return "", fmt.Errorf("%w: parse %s: %v", ErrUnavailable, f.path, err)
	}

	value, ok := entries[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	value = os.ExpandEnv(value)
	if value == "" || strings.HasPrefix(value, "${") {
		return "", fmt.Errorf("%w: %s resolves to an empty value", ErrNotFound, name)
	}

	return value, nil
}

// Mask returns a display-safe version of a secret, keeping only a short
// prefix and suffix. Log call sites must pass secrets through here.
func Mask(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 12 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
