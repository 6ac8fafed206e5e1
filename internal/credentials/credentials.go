// Package credentials resolves API keys for account and exchange pairs.
package credentials

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/hoangson/trading-runtime/internal/types"
	"gopkg.in/yaml.v3"
)

// Keys holds one exchange credential set.
type Keys struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Passphrase string `yaml:"passphrase,omitempty"`
}

// Provider resolves credentials for an account on an exchange.
type Provider interface {
	// Get returns the credentials for the pair, or false when the
	// account has no keys for that exchange.
	Get(account, exchange string) (Keys, bool)
	// Accounts returns all known account names, sorted.
	Accounts() []string
}

// FileProvider loads credentials from a YAML file keyed by account
// then exchange. Values support environment variable expansion.
type FileProvider struct {
	mu       sync.RWMutex
	accounts map[string]map[string]Keys
}

// LoadFile reads a credentials file into a FileProvider.
func LoadFile(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var accounts map[string]map[string]Keys
	if err := yaml.Unmarshal([]byte(expanded), &accounts); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	for account, exchanges := range accounts {
		for exchange, keys := range exchanges {
			if keys.APIKey == "" || keys.APISecret == "" {
				return nil, fmt.Errorf("%w: credentials for %s/%s missing api_key or api_secret",
					types.ErrConfigInvalid, account, exchange)
			}
		}
	}

	return &FileProvider{accounts: accounts}, nil
}

// Static builds a provider from an in-memory map. Used in tests and
// for paper trading setups that need no real keys.
func Static(accounts map[string]map[string]Keys) *FileProvider {
	if accounts == nil {
		accounts = make(map[string]map[string]Keys)
	}
	return &FileProvider{accounts: accounts}
}

// Get implements Provider.
func (p *FileProvider) Get(account, exchange string) (Keys, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	exchanges, ok := p.accounts[account]
	if !ok {
		return Keys{}, false
	}
	keys, ok := exchanges[exchange]
	return keys, ok
}

// Accounts implements Provider.
func (p *FileProvider) Accounts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.accounts))
	for name := range p.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
