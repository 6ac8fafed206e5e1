package trading

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hoangson/trading-runtime/internal/connector"
)

// Service owns the per-account facades. Facades are created on first
// use and live for the process lifetime.
type Service struct {
	registry *connector.Registry
	logger   *slog.Logger

	mu      sync.RWMutex
	facades map[string]*Facade
}

// NewService creates the facade service.
func NewService(registry *connector.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		logger:   logger,
		facades:  make(map[string]*Facade),
	}
}

// GetFacade returns the account's facade, creating it on first use.
func (s *Service) GetFacade(account string) *Facade {
	s.mu.RLock()
	f, ok := s.facades[account]
	s.mu.RUnlock()
	if ok {
		return f
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.facades[account]; ok {
		return f
	}
	f = NewFacade(account, s.registry)
	s.facades[account] = f
	s.logger.Info("trading facade created", "account", account)
	return f
}

// UpdateAllTimestamps advances every facade's logical clock to t.
func (s *Service) UpdateAllTimestamps(t time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.facades {
		f.UpdateTimestamp(t)
	}
}

// Accounts returns the accounts with a live facade, sorted.
func (s *Service) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.facades))
	for account := range s.facades {
		out = append(out, account)
	}
	sort.Strings(out)
	return out
}
