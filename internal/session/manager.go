// Package session tracks per-domain cookie and token state with a rolling TTL.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilhq/stealthcrawler/internal/acquire"
)

// State is the navigation state for one target domain. Never shared across
// domains.
type State struct {
	Domain       string            `json:"domain"`
	Cookies      []*http.Cookie    `json:"cookies"`
	Tokens       map[string]string `json:"tokens"`
	LastActivity time.Time         `json:"lastActivity"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

// Store is the pluggable durability backend. The default in-memory store
// keeps state for the process lifetime only.
type Store interface {
	Get(ctx context.Context, domain string) (State, bool, error)
	Put(ctx context.Context, state State) error
	Delete(ctx context.Context, domain string) error
}

// Manager mediates session access. All mutation for a domain happens under
// that domain's lock so concurrent jobs against the same target cannot race
// on cookie merges.
type Manager struct {
	store  Store
	ttl    time.Duration
	clock  acquire.Clock
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager constructs a Manager over the given store.
func NewManager(store Store, ttl time.Duration, clock acquire.Clock, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		clock:  clock,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (m *Manager) domainLock(domain string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[domain]
	if !ok {
		l = &sync.Mutex{}
		m.locks[domain] = l
	}
	return l
}

// Attach returns existing non-expired state for the domain, or fresh empty
// state on first navigation or after expiry.
func (m *Manager) Attach(ctx context.Context, domain string) (State, error) {
	l := m.domainLock(domain)
	l.Lock()
	defer l.Unlock()

	now := m.clock.Now()
	state, ok, err := m.store.Get(ctx, domain)
	if err != nil {
		return State{}, err
	}
	if ok && now.Before(state.ExpiresAt) {
		return state, nil
	}
	if ok {
		// Expired state is evicted rather than reused.
		if err := m.store.Delete(ctx, domain); err != nil {
			return State{}, err
		}
	}
	return State{
		Domain:       domain,
		Tokens:       make(map[string]string),
		LastActivity: now,
		ExpiresAt:    now.Add(m.ttl),
	}, nil
}

// RecordResponse merges new cookies and tokens into the domain state and
// resets the TTL.
func (m *Manager) RecordResponse(ctx context.Context, domain string, cookies []*http.Cookie, tokens map[string]string) error {
	l := m.domainLock(domain)
	l.Lock()
	defer l.Unlock()

	now := m.clock.Now()
	state, ok, err := m.store.Get(ctx, domain)
	if err != nil {
		return err
	}
	if !ok || !now.Before(state.ExpiresAt) {
		state = State{Domain: domain, Tokens: make(map[string]string)}
	}
	state.Cookies = mergeCookies(state.Cookies, cookies)
	if state.Tokens == nil {
		state.Tokens = make(map[string]string)
	}
	for k, v := range tokens {
		state.Tokens[k] = v
	}
	state.LastActivity = now
	state.ExpiresAt = now.Add(m.ttl)
	return m.store.Put(ctx, state)
}

// Invalidate drops the domain state, e.g. after repeated auth failures.
func (m *Manager) Invalidate(ctx context.Context, domain string) error {
	l := m.domainLock(domain)
	l.Lock()
	defer l.Unlock()

	if m.logger != nil {
		m.logger.Info("session invalidated", zap.String("domain", domain))
	}
	return m.store.Delete(ctx, domain)
}

// mergeCookies overlays newer cookies on older ones by name+path.
func mergeCookies(existing, incoming []*http.Cookie) []*http.Cookie {
	merged := make(map[string]*http.Cookie, len(existing)+len(incoming))
	order := make([]string, 0, len(existing)+len(incoming))
	for _, c := range existing {
		key := c.Name + "|" + c.Path
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = c
	}
	for _, c := range incoming {
		key := c.Name + "|" + c.Path
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = c
	}
	out := make([]*http.Cookie, 0, len(order))
	for _, key := range order {
		out = append(out, merged[key])
	}
	return out
}
