package dingtalk

import "sync"

// Registry tracks the active stream client per account so that senders and
// the token cache can reuse a connection's token management instead of
// performing independent exchanges. It is created at startup and passed
// explicitly to every component that needs connection reuse.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*StreamClient
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: map[string]*StreamClient{},
	}
}

// Register records the active client for an account. Re-registration is
// last-writer-wins; only one listener per account is ever started.
func (r *Registry) Register(accountID string, client *StreamClient) {
	if accountID == "" || client == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[accountID] = client
}

// Unregister removes the account's client, but only if it is still the one
// being deregistered — a replacement registered in the meantime survives.
func (r *Registry) Unregister(accountID string, client *StreamClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.clients[accountID]; ok && current == client {
		delete(r.clients, accountID)
	}
}

// Get returns the active client for an account, if any.
func (r *Registry) Get(accountID string) (*StreamClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[accountID]
	return client, ok
}

// Connected reports whether an account currently has an active client.
func (r *Registry) Connected(accountID string) bool {
	_, ok := r.Get(accountID)
	return ok
}

// AccountIDs returns the accounts with an active client.
func (r *Registry) AccountIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}
