package speech

import (
	"bytes"
	"container/list"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	DefaultCacheEntries = 64
	DefaultCacheTTL     = 24 * time.Hour
)

// CachingSynthesizer keeps the encoded audio of recent utterances in memory.
// Announcements repeat a lot, so most of them never reach the backend.
type CachingSynthesizer struct {
	next       Synthesizer
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front is most recently used
	hits    uint64
	misses  uint64
}

type cachedAudio struct {
	text      string
	audio     []byte
	expiresAt time.Time
}

func NewCachingSynthesizer(next Synthesizer, maxEntries int, ttl time.Duration) *CachingSynthesizer {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachingSynthesizer{
		next:       next,
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

func (c *CachingSynthesizer) Synthesize(text string) (io.Reader, error) {
	if audio, ok := c.get(text); ok {
		return bytes.NewReader(audio), nil
	}
	r, err := c.next.Synthesize(text)
	if err != nil {
		return nil, err
	}
	audio, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	c.put(text, audio)
	return bytes.NewReader(audio), nil
}

func (c *CachingSynthesizer) get(text string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[text]
	if !ok {
		c.misses++
		return nil, false
	}
	item := elem.Value.(*cachedAudio)
	if c.now().After(item.expiresAt) {
		c.remove(elem)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return item.audio, true
}

func (c *CachingSynthesizer) put(text string, audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := &cachedAudio{text: text, audio: audio, expiresAt: c.now().Add(c.ttl)}
	if elem, ok := c.entries[text]; ok {
		elem.Value = item
		c.order.MoveToFront(elem)
		return
	}
	c.entries[text] = c.order.PushFront(item)
	for c.order.Len() > c.maxEntries {
		c.remove(c.order.Back())
	}
}

func (c *CachingSynthesizer) remove(elem *list.Element) {
	item := elem.Value.(*cachedAudio)
	delete(c.entries, item.text)
	c.order.Remove(elem)
}

// Len returns the number of cached utterances, expired ones included.
func (c *CachingSynthesizer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// HitRate returns hits and misses since creation.
func (c *CachingSynthesizer) HitRate() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
