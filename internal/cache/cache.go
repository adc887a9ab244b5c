package cache

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/TruWeaveTrader/plat-ibkr/internal/gateway"
	gocache "github.com/patrickmn/go-cache"
)

// Cache keeps resolved gateway contracts so repeated lookups for the same
// symbol skip the search round-trip
type Cache struct {
	contracts *gocache.Cache
	ttl       time.Duration
	hits      atomic.Int64
	misses    atomic.Int64
}

// NewCache creates a new cache instance
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		contracts: gocache.New(ttl, ttl*2),
		ttl:       ttl,
	}
}

func contractKey(symbol, secType string) string {
	return strings.ToUpper(symbol) + ":" + strings.ToUpper(secType)
}

// GetContract retrieves a resolved contract
func (c *Cache) GetContract(symbol, secType string) (gateway.Contract, bool) {
	if val, found := c.contracts.Get(contractKey(symbol, secType)); found {
		if contract, ok := val.(gateway.Contract); ok {
			c.hits.Add(1)
			return contract, true
		}
	}
	c.misses.Add(1)
	return gateway.Contract{}, false
}

// SetContract caches a resolved contract
func (c *Cache) SetContract(contract gateway.Contract) {
	c.contracts.Set(contractKey(contract.Symbol, contract.SecType), contract, c.ttl)
}

// Clear removes all cached data
func (c *Cache) Clear() {
	c.contracts.Flush()
}

// Stats returns cache statistics
type Stats struct {
	ContractCount int
	Hits          int64
	Misses        int64
}

// GetStats returns current cache statistics
func (c *Cache) GetStats() Stats {
	return Stats{
		ContractCount: c.contracts.ItemCount(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
	}
}
