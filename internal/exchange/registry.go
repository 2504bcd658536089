package exchange

import (
	"sync"
)

// Registry routes assets to their configured exchange. Registration happens
// at startup; lookups are concurrent.
type Registry struct {
	mu        sync.RWMutex
	exchanges map[string]Client // exchange name -> client
	routes    map[string]string // asset id -> exchange name
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		exchanges: make(map[string]Client),
		routes:    make(map[string]string),
	}
}

// RegisterExchange adds a client under its own name.
func (r *Registry) RegisterExchange(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges[c.Name()] = c
}

// RegisterAsset routes an asset to a previously registered exchange.
func (r *Registry) RegisterAsset(assetID, exchangeName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exchanges[exchangeName]; !ok {
		return ErrUnknownExchange
	}
	r.routes[assetID] = exchangeName
	return nil
}

// ClientFor resolves the exchange configured for an asset.
func (r *Registry) ClientFor(assetID string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.routes[assetID]
	if !ok {
		return nil, ErrUnknownAsset
	}
	c, ok := r.exchanges[name]
	if !ok {
		return nil, ErrUnknownExchange
	}
	return c, nil
}

// ClientByName resolves an exchange by name.
func (r *Registry) ClientByName(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.exchanges[name]
	if !ok {
		return nil, ErrUnknownExchange
	}
	return c, nil
}

// Exchanges returns all registered clients.
func (r *Registry) Exchanges() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.exchanges))
	for _, c := range r.exchanges {
		out = append(out, c)
	}
	return out
}
