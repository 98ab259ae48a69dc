// Package cache holds the media, profile photo and group list caches that sit
// between the web handlers and the Telegram gateway.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tgview/pkg/tgview"
)

const (
	// DefaultMaxAge is the media entry lifetime when none is configured.
	DefaultMaxAge = 24 * time.Hour
	// DefaultMaxItemBytes is the per-item size limit when none is configured.
	DefaultMaxItemBytes = 10 * 1024 * 1024
	// DefaultSweepInterval is the janitor period when none is configured.
	DefaultSweepInterval = time.Hour

	blobSuffix = ".bin"
	metaSuffix = ".json"
)

// MediaKey addresses one cached media item.
type MediaKey struct {
	GroupID   int64
	MessageID int
	Kind      tgview.MediaKind
}

// Hash returns the hex content hash used as the on-disk file name.
func (k MediaKey) Hash() string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(k.GroupID, 10) + ":" + strconv.Itoa(k.MessageID) + ":" + string(k.Kind)))

	return hex.EncodeToString(sum[:])
}

// MediaMeta is the sidecar stored next to each cached blob.
type MediaMeta struct {
	Key      string           `json:"key"`
	GroupID  int64            `json:"group_id"`
	Message  int              `json:"message_id"`
	Kind     tgview.MediaKind `json:"kind"`
	MIMEType string           `json:"mime_type,omitempty"`
	FileName string           `json:"file_name,omitempty"`
	Size     int64            `json:"size"`
	StoredAt time.Time        `json:"stored_at"`
}

// MediaCache is a disk-backed store of downloaded media with age based eviction.
type MediaCache struct {
	dir          string
	maxAge       time.Duration
	maxItemBytes int64
	sweep        time.Duration
	now          func() time.Time
	logger       *slog.Logger

	// mu serializes writers so a rename never races an eviction of the same key.
	mu sync.Mutex
}

// MediaOption mutates media cache construction settings.
type MediaOption func(*MediaCache)

// WithMaxAge overrides how long entries stay valid.
func WithMaxAge(maxAge time.Duration) MediaOption {
	return func(c *MediaCache) {
		if maxAge > 0 {
			c.maxAge = maxAge
		}
	}
}

// WithMaxItemBytes overrides the per-item size limit.
func WithMaxItemBytes(limit int64) MediaOption {
	return func(c *MediaCache) {
		if limit > 0 {
			c.maxItemBytes = limit
		}
	}
}

// WithSweepInterval overrides the janitor period used by Run.
func WithSweepInterval(interval time.Duration) MediaOption {
	return func(c *MediaCache) {
		if interval > 0 {
			c.sweep = interval
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) MediaOption {
	return func(c *MediaCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMediaLogger sets the structured logger.
func WithMediaLogger(logger *slog.Logger) MediaOption {
	return func(c *MediaCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewMediaCache creates dir when missing and returns a cache rooted there.
func NewMediaCache(dir string, options ...MediaOption) (*MediaCache, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("new media cache: %w: empty directory", tgview.ErrInvalidRequest)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("new media cache: create dir %s: %w", dir, err)
	}

	cache := &MediaCache{
		dir:          dir,
		maxAge:       DefaultMaxAge,
		maxItemBytes: DefaultMaxItemBytes,
		sweep:        DefaultSweepInterval,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, option := range options {
		option(cache)
	}

	return cache, nil
}

// MaxItemBytes reports the per-item size limit.
func (c *MediaCache) MaxItemBytes() int64 {
	if c == nil {
		return DefaultMaxItemBytes
	}

	return c.maxItemBytes
}

// Get returns the cached blob for key.
//
// Expired entries are removed and reported as a miss.
func (c *MediaCache) Get(key MediaKey) ([]byte, MediaMeta, bool, error) {
	if c == nil {
		return nil, MediaMeta{}, false, nil
	}

	hash := key.Hash()
	blobPath := c.blobPath(hash)
	info, err := os.Stat(blobPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, MediaMeta{}, false, nil
	}
	if err != nil {
		return nil, MediaMeta{}, false, fmt.Errorf("media cache get %s: stat: %w", hash, err)
	}
	if c.expired(info.ModTime()) {
		c.mu.Lock()
		removed, removeErr := c.removeIfExpired(hash)
		c.mu.Unlock()
		if removeErr != nil {
			return nil, MediaMeta{}, false, fmt.Errorf("media cache get %s: %w", hash, removeErr)
		}
		if removed {
			return nil, MediaMeta{}, false, nil
		}
	}

	data, err := os.ReadFile(blobPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, MediaMeta{}, false, nil
	}
	if err != nil {
		return nil, MediaMeta{}, false, fmt.Errorf("media cache get %s: read: %w", hash, err)
	}

	meta, err := c.readMeta(hash)
	if err != nil {
		c.logger.Warn("media cache sidecar unreadable",
			"key", hash,
			"error", err,
		)
		meta = MediaMeta{
			Key:     hash,
			GroupID: key.GroupID,
			Message: key.MessageID,
			Kind:    key.Kind,
			Size:    int64(len(data)),
		}
	}

	return data, meta, true, nil
}

// Put stores data under key, writing blob and sidecar atomically.
func (c *MediaCache) Put(key MediaKey, meta MediaMeta, data []byte) error {
	if c == nil {
		return nil
	}
	if int64(len(data)) > c.maxItemBytes {
		return fmt.Errorf("media cache put: %d bytes: %w", len(data), tgview.ErrMediaTooLarge)
	}

	hash := key.Hash()
	meta.Key = hash
	meta.GroupID = key.GroupID
	meta.Message = key.MessageID
	meta.Kind = key.Kind
	meta.Size = int64(len(data))
	meta.StoredAt = c.now().UTC()

	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("media cache put %s: marshal meta: %w", hash, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeFileAtomic(c.metaPath(hash), encoded); err != nil {
		return fmt.Errorf("media cache put %s: write meta: %w", hash, err)
	}
	if err := writeFileAtomic(c.blobPath(hash), data); err != nil {
		return fmt.Errorf("media cache put %s: write blob: %w", hash, err)
	}

	return nil
}

// Evict removes every expired entry and returns how many were removed.
func (c *MediaCache) Evict(ctx context.Context) (int, error) {
	if c == nil {
		return 0, nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("media cache evict: read dir: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, fmt.Errorf("media cache evict: %w", err)
		}

		hash, ok := strings.CutSuffix(entry.Name(), blobSuffix)
		if !ok || entry.IsDir() {
			continue
		}
		gone, err := c.removeIfExpired(hash)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if gone {
			removed++
		}
	}
	c.removeOrphanSidecars(entries)

	if len(errs) > 0 {
		return removed, fmt.Errorf("media cache evict: %w", errors.Join(errs...))
	}

	return removed, nil
}

// List returns metadata of every live entry, newest first.
func (c *MediaCache) List(ctx context.Context) ([]MediaMeta, error) {
	if c == nil {
		return nil, nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("media cache list: read dir: %w", err)
	}

	metas := make([]MediaMeta, 0, len(entries)/2)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("media cache list: %w", err)
		}

		hash, ok := strings.CutSuffix(entry.Name(), blobSuffix)
		if !ok || entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || c.expired(info.ModTime()) {
			continue
		}
		meta, err := c.readMeta(hash)
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].StoredAt.After(metas[j].StoredAt)
	})

	return metas, nil
}

// Run evicts expired entries every sweep interval until ctx is canceled.
func (c *MediaCache) Run(ctx context.Context) error {
	if c == nil {
		return nil
	}

	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := c.Evict(ctx)
			if err != nil && ctx.Err() == nil {
				c.logger.Warn("media cache sweep failed", "error", err)
			}
			if removed > 0 {
				c.logger.Debug("media cache sweep", "removed", removed)
			}
		}
	}
}

func (c *MediaCache) expired(modTime time.Time) bool {
	return c.now().Sub(modTime) > c.maxAge
}

func (c *MediaCache) blobPath(hash string) string {
	return filepath.Join(c.dir, hash+blobSuffix)
}

func (c *MediaCache) metaPath(hash string) string {
	return filepath.Join(c.dir, hash+metaSuffix)
}

func (c *MediaCache) readMeta(hash string) (MediaMeta, error) {
	raw, err := os.ReadFile(c.metaPath(hash))
	if err != nil {
		return MediaMeta{}, fmt.Errorf("read meta: %w", err)
	}

	var meta MediaMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return MediaMeta{}, fmt.Errorf("decode meta: %w", err)
	}

	return meta, nil
}

// removeIfExpired stats the blob again and removes the entry only when it is
// still expired. Callers hold c.mu.
func (c *MediaCache) removeIfExpired(hash string) (bool, error) {
	info, err := os.Stat(c.blobPath(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat entry %s: %w", hash, err)
	}
	if !c.expired(info.ModTime()) {
		return false, nil
	}
	if err := c.removeEntry(hash); err != nil {
		return false, err
	}

	return true, nil
}

func (c *MediaCache) removeEntry(hash string) error {
	var errs []error
	for _, path := range []string{c.blobPath(hash), c.metaPath(hash)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("remove entry %s: %w", hash, errors.Join(errs...))
	}

	return nil
}

// removeOrphanSidecars drops sidecars left behind by an interrupted Put.
func (c *MediaCache) removeOrphanSidecars(entries []os.DirEntry) {
	blobs := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if hash, ok := strings.CutSuffix(entry.Name(), blobSuffix); ok {
			blobs[hash] = struct{}{}
		}
	}
	for _, entry := range entries {
		hash, ok := strings.CutSuffix(entry.Name(), metaSuffix)
		if !ok {
			continue
		}
		if _, exists := blobs[hash]; exists {
			continue
		}
		info, err := entry.Info()
		if err != nil || !c.expired(info.ModTime()) {
			continue
		}
		_ = os.Remove(c.metaPath(hash))
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp: %w", err)
	}

	return nil
}
