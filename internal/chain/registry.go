package chain

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry hands out one Client per chain, dialing lazily on first use.
type Registry struct {
	mu      sync.Mutex
	chains  map[int64]Info
	clients map[int64]*Client
	logger  *slog.Logger
}

// NewRegistry creates a registry over the given chain catalog.
func NewRegistry(chains []Info, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[int64]Info, len(chains))
	for _, info := range chains {
		m[info.ID] = info
	}
	return &Registry{
		chains:  m,
		clients: make(map[int64]*Client),
		logger:  logger,
	}
}

// Supported reports whether the chain ID is in the catalog.
func (r *Registry) Supported(chainID int64) bool {
	_, ok := r.chains[chainID]
	return ok
}

// Chains lists the catalog sorted by chain ID.
func (r *Registry) Chains() []Info {
	out := make([]Info, 0, len(r.chains))
	for _, info := range r.chains {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Client returns the client for chainID, dialing if needed.
func (r *Registry) Client(chainID int64) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[chainID]; ok {
		return c, nil
	}
	info, ok := r.chains[chainID]
	if !ok {
		return nil, ErrUnsupportedChain
	}

	c, err := NewClient(info, WithLogger(r.logger))
	if err != nil {
		return nil, err
	}
	r.logger.Info("connected to chain", "chain_id", chainID, "name", info.Name)
	r.clients[chainID] = c
	return c, nil
}

// Register injects a pre-built client, replacing any dialed one.
// Used by tests and by callers that manage their own connections.
func (r *Registry) Register(chainID int64, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[chainID] = c.info
	r.clients[chainID] = c
}

// Close releases every dialed client.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
