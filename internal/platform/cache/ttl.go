package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Size      int64
	HitRate   float64
	Evictions int64
	LastSweep time.Time
}

type entry struct {
	value      any
	storedAt   time.Time
	expireTime time.Time
}

// TTLCache is an in-memory cache whose entries are logically absent once
// their ttl elapses, even before the sweep physically removes them.
type TTLCache struct {
	data       map[string]*entry
	mutex      sync.Mutex
	defaultTTL time.Duration
	stats      Stats

	sweepTicker *time.Ticker
	sweepStop   chan struct{}
	sweepOnce   sync.Once
}

// New creates a TTLCache with the given default ttl.
func New(defaultTTL time.Duration) *TTLCache {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &TTLCache{
		data:       make(map[string]*entry),
		defaultTTL: defaultTTL,
		sweepStop:  make(chan struct{}),
	}
}

// Get returns the stored value when present and unexpired. An expired entry
// is evicted and reported as a miss.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	e, exists := c.data[key]
	if !exists {
		c.stats.Misses++
		return nil, false
	}
	if time.Now().After(e.expireTime) {
		delete(c.data, key)
		c.stats.Evictions++
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

// Set stores the value unconditionally, overwriting any existing entry.
// A non-positive ttl falls back to the cache default.
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	if key == "" {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()

	c.mutex.Lock()
	c.data[key] = &entry{
		value:      value,
		storedAt:   now,
		expireTime: now.Add(ttl),
	}
	c.mutex.Unlock()
}

func (c *TTLCache) Delete(key string) {
	c.mutex.Lock()
	delete(c.data, key)
	c.mutex.Unlock()
}

func (c *TTLCache) Clear() {
	c.mutex.Lock()
	c.data = make(map[string]*entry)
	c.mutex.Unlock()
}

// Len reports the number of physically present entries, expired or not.
func (c *TTLCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.data)
}

// GetStats returns a snapshot of the cache counters.
func (c *TTLCache) GetStats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stats := c.stats
	stats.Size = int64(len(c.data))
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// StartSweep launches the background sweep removing expired entries.
func (c *TTLCache) StartSweep(interval time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.sweepTicker != nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	c.sweepTicker = time.NewTicker(interval)
	go c.sweepLoop(c.sweepTicker)
}

// StopSweep stops the background sweep and performs a final pass so that
// teardown leaves no expired entries behind.
func (c *TTLCache) StopSweep() {
	c.sweepOnce.Do(func() {
		close(c.sweepStop)
	})
	c.mutex.Lock()
	if c.sweepTicker != nil {
		c.sweepTicker.Stop()
		c.sweepTicker = nil
	}
	c.mutex.Unlock()
	c.Sweep()
}

func (c *TTLCache) sweepLoop(ticker *time.Ticker) {
	for {
		select {
		case <-c.sweepStop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep physically removes all entries whose ttl has elapsed.
func (c *TTLCache) Sweep() {
	now := time.Now()
	c.mutex.Lock()
	for key, e := range c.data {
		if now.After(e.expireTime) {
			delete(c.data, key)
			c.stats.Evictions++
		}
	}
	c.stats.LastSweep = now
	c.mutex.Unlock()
}

// GenerateKey deterministically serializes an operation name and its
// parameters so that equivalent filter sets collide to the same key
// regardless of map insertion order.
func GenerateKey(op string, params map[string]any) string {
	if len(params) == 0 {
		return op
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(op)
	for _, k := range keys {
		raw, err := json.Marshal(params[k])
		if err != nil {
			raw = []byte(fmt.Sprintf("%v", params[k]))
		}
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.Write(raw)
	}
	return b.String()
}
