package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticResolve(t *testing.T) {
	v := Static{"anthropic_api_key": "sk-test-1234"}

	got, err := v.Resolve(context.Background(), "anthropic_api_key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "sk-test-1234" {
		t.Errorf("Resolve = %q, want %q", got, "sk-test-1234")
	}
}

func TestStaticResolveNotFound(t *testing.T) {
	v := Static{}

	_, err := v.Resolve(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve error = %v, want ErrNotFound", err)
	}
}

func writeVaultFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("write vault file: %v", err)
	}
	return path
}

func TestFileVaultResolve(t *testing.T) {
	path := writeVaultFile(t, "anthropic_api_key: sk-from-file-9999\n", 0o600)
	v := NewFileVault(path)

	got, err := v.Resolve(context.Background(), "anthropic_api_key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "sk-from-file-9999" {
		t.Errorf("Resolve = %q, want %q", got, "sk-from-file-9999")
	}
}

func TestFileVaultNotFound(t *testing.T) {
	path := writeVaultFile(t, "other: value\n", 0o600)
	v := NewFileVault(path)

	_, err := v.Resolve(context.Background(), "anthropic_api_key")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve error = %v, want ErrNotFound", err)
	}
}

func TestFileVaultMissingFile(t *testing.T) {
	v := NewFileVault(filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := v.Resolve(context.Background(), "anything")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Resolve error = %v, want ErrUnavailable", err)
	}
}

func TestFileVaultRejectsLoosePermissions(t *testing.T) {
	path := writeVaultFile(t, "key: value\n", 0o644)
	v := NewFileVault(path)

	_, err := v.Resolve(context.Background(), "key")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Resolve error = %v, want ErrUnavailable for 0644 file", err)
	}
}

func TestFileVaultExpandsEnv(t *testing.T) {
	t.Setenv("DISPATCH_TEST_SECRET", "expanded-secret-value")
	path := writeVaultFile(t, "key: ${DISPATCH_TEST_SECRET}\n", 0o600)
	v := NewFileVault(path)

	got, err := v.Resolve(context.Background(), "key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "expanded-secret-value" {
		t.Errorf("Resolve = %q, want expanded env value", got)
	}
}

func TestFileVaultUnsetEnvIsNotFound(t *testing.T) {
	path := writeVaultFile(t, "key: ${DISPATCH_TEST_UNSET_VAR}\n", 0o600)
	v := NewFileVault(path)

	_, err := v.Resolve(context.Background(), "key")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve error = %v, want ErrNotFound for empty expansion", err)
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-abcdefghijklmnop", "sk-a...mnop"},
	}

	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
