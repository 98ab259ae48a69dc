package cache

import "sync"

// DefaultMaxPhotos bounds the profile photo cache when none is configured.
const DefaultMaxPhotos = 1000

// PhotoCache maps user ids to avatar data URLs.
//
// An empty data URL for a known user records that the user has no photo.
type PhotoCache struct {
	mu        sync.RWMutex
	maxPhotos int
	entries   map[int64]string
}

// PhotoOption mutates photo cache construction settings.
type PhotoOption func(*PhotoCache)

// WithMaxPhotos overrides the entry bound.
func WithMaxPhotos(limit int) PhotoOption {
	return func(c *PhotoCache) {
		if limit > 0 {
			c.maxPhotos = limit
		}
	}
}

// NewPhotoCache creates an empty profile photo cache.
func NewPhotoCache(options ...PhotoOption) *PhotoCache {
	cache := &PhotoCache{maxPhotos: DefaultMaxPhotos}
	for _, option := range options {
		option(cache)
	}
	cache.entries = make(map[int64]string, cache.maxPhotos)

	return cache
}

// Get returns the data URL for userID and whether the user is known.
func (c *PhotoCache) Get(userID int64) (string, bool) {
	if c == nil {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	dataURL, known := c.entries[userID]
	return dataURL, known
}

// Put stores the avatar data URL for userID.
func (c *PhotoCache) Put(userID int64, dataURL string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[userID]; !exists && len(c.entries)+1 > c.maxPhotos {
		clear(c.entries)
	}
	c.entries[userID] = dataURL
}

// PutAbsent records that userID has no profile photo.
func (c *PhotoCache) PutAbsent(userID int64) {
	c.Put(userID, "")
}

// Len reports the number of cached users.
func (c *PhotoCache) Len() int {
	if c == nil {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
