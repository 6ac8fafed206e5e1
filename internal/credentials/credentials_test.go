package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hoangson/trading-runtime/internal/types"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeTempFile(t, `
alice:
  binance:
    api_key: key-a
    api_secret: secret-a
  okx:
    api_key: key-b
    api_secret: secret-b
    passphrase: pass-b
bob:
  binance:
    api_key: key-c
    api_secret: secret-c
`)

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	keys, ok := p.Get("alice", "okx")
	if !ok {
		t.Fatal("expected alice/okx credentials")
	}
	if keys.Passphrase != "pass-b" {
		t.Errorf("expected passphrase pass-b, got %q", keys.Passphrase)
	}

	if _, ok := p.Get("alice", "kraken"); ok {
		t.Error("expected missing exchange lookup to fail")
	}
	if _, ok := p.Get("carol", "binance"); ok {
		t.Error("expected missing account lookup to fail")
	}

	accounts := p.Accounts()
	if len(accounts) != 2 || accounts[0] != "alice" || accounts[1] != "bob" {
		t.Errorf("expected sorted accounts [alice bob], got %v", accounts)
	}
}

func TestLoadFile_MissingSecret(t *testing.T) {
	path := writeTempFile(t, `
alice:
  binance:
    api_key: key-a
`)

	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, types.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadFile_EnvExpansion(t *testing.T) {
	os.Setenv("TEST_CRED_SECRET", "expanded-secret")
	defer os.Unsetenv("TEST_CRED_SECRET")

	path := writeTempFile(t, `
alice:
  binance:
    api_key: key-a
    api_secret: ${TEST_CRED_SECRET}
`)

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	keys, _ := p.Get("alice", "binance")
	if keys.APISecret != "expanded-secret" {
		t.Errorf("expected env-expanded secret, got %q", keys.APISecret)
	}
}

func TestStatic(t *testing.T) {
	p := Static(map[string]map[string]Keys{
		"paper": {"sim": {APIKey: "k", APISecret: "s"}},
	})

	if _, ok := p.Get("paper", "sim"); !ok {
		t.Error("expected static credentials to resolve")
	}

	empty := Static(nil)
	if len(empty.Accounts()) != 0 {
		t.Error("expected nil map to behave as empty provider")
	}
}
