package delivery

import (
	"fmt"
	"sync"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// Registry maps channels to their strategies. It is filled at startup.
type Registry struct {
	mu         sync.RWMutex
	strategies map[domain.Channel]Strategy
}

// NewRegistry creates a registry holding the given strategies
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{strategies: make(map[domain.Channel]Strategy, len(strategies))}
	for _, s := range strategies {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a strategy; a channel may be registered once
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[s.Channel()]; exists {
		return fmt.Errorf("strategy for channel %s already registered", s.Channel())
	}
	r.strategies[s.Channel()] = s
	return nil
}

// Get returns the strategy of a channel or a domain.ConfigurationError
func (r *Registry) Get(channel domain.Channel) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[channel]
	if !ok {
		return nil, domain.ConfigurationError{Channel: channel}
	}
	return s, nil
}

// Channels lists the registered channels in the canonical channel order
func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Channel, 0, len(r.strategies))
	for _, c := range domain.Channels() {
		if _, ok := r.strategies[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
