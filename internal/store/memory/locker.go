package memory

import (
	"context"
	"sync"
	"time"

	"obgateway/internal/clock"
	"obgateway/internal/domain/account"
)

// Locker is a keyed mutex for single-process deployments.
type Locker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocker() *Locker {
	return &Locker{held: map[string]chan struct{}{}}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			ch := make(chan struct{})
			l.held[key] = ch
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type cachedAccounts struct {
	accounts []account.Account
	expires  time.Time
}

// AccountCache keeps account lists in process memory.
type AccountCache struct {
	clk     clock.Clock
	mu      sync.Mutex
	entries map[string]cachedAccounts
}

func NewAccountCache(clk clock.Clock) *AccountCache {
	return &AccountCache{clk: clk, entries: map[string]cachedAccounts{}}
}

func (c *AccountCache) GetAccounts(_ context.Context, consentID string) ([]account.Account, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[consentID]
	if !ok || !c.clk.Now().Before(e.expires) {
		delete(c.entries, consentID)
		return nil, false, nil
	}
	return append([]account.Account(nil), e.accounts...), true, nil
}

func (c *AccountCache) PutAccounts(_ context.Context, consentID string, accounts []account.Account, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[consentID] = cachedAccounts{
		accounts: append([]account.Account(nil), accounts...),
		expires:  c.clk.Now().Add(ttl),
	}
	return nil
}
